package paywall

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const requestKey = "paywall.request"

// Middleware captures the payment credentials of an incoming request so the
// protocol handler can validate them once it knows which message they belong
// to. It never rejects on its own: requests without credentials fail at
// validation time, with the full x402 descriptor in the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestKey, Request{
			BearerToken: bearerToken(c.GetHeader("Authorization")),
			URL:         c.Request.URL.String(),
			HTTPMethod:  c.Request.Method,
		})
		c.Next()
	}
}

// FromGin returns the credentials the middleware captured for this request.
func FromGin(c *gin.Context) Request {
	if v, ok := c.Get(requestKey); ok {
		if r, ok := v.(Request); ok {
			return r
		}
	}
	return Request{
		URL:        c.Request.URL.String(),
		HTTPMethod: c.Request.Method,
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
