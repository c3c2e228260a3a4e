// Package x402 implements the x402 payment protocol objects used by the
// paywall: schemes, access tokens, payment requirement descriptors, and the
// plan scheme resolver.
package x402

// Scheme identifies the payment rail used to verify and settle credits.
type Scheme string

const (
	// SchemeERC4337 is account-abstraction crypto credit settlement.
	SchemeERC4337 Scheme = "nvm:erc4337"
	// SchemeCardDelegation is fiat settlement via card delegation.
	SchemeCardDelegation Scheme = "nvm:card-delegation"
)

// schemeNetworks maps each scheme to its default network identifier.
var schemeNetworks = map[Scheme]string{
	SchemeERC4337:        "eip155:84532",
	SchemeCardDelegation: "stripe",
}

// DefaultNetwork is used when a scheme has no known network mapping.
const DefaultNetwork = "eip155:84532"

// IsValidScheme reports whether s is a supported scheme identifier.
func IsValidScheme(s string) bool {
	switch Scheme(s) {
	case SchemeERC4337, SchemeCardDelegation:
		return true
	}
	return false
}

// NetworkFor returns the default network for a scheme.
func NetworkFor(s Scheme) string {
	if n, ok := schemeNetworks[s]; ok {
		return n
	}
	return DefaultNetwork
}
