// Package pushnotify delivers task status webhooks to caller-registered
// endpoints. Delivery is strictly best effort: a failing webhook never
// affects the task that triggered it.
package pushnotify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/taskgate/internal/metrics"
)

const deliveryTimeout = 5 * time.Second

// Authentication describes how to authenticate against the webhook endpoint.
type Authentication struct {
	// Schemes lists the supported mechanisms, e.g. "basic" or "bearer".
	Schemes []string `json:"schemes,omitempty"`
	// Credentials is the secret matching the scheme: "user:pass" for
	// basic, the raw token for bearer.
	Credentials string `json:"credentials,omitempty"`
}

// Config is one registered webhook for a task.
type Config struct {
	TaskID         string            `json:"taskId"`
	URL            string            `json:"url"`
	Token          string            `json:"token,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Authentication *Authentication   `json:"authentication,omitempty"`
}

// Notification is the body delivered to the webhook.
type Notification struct {
	TaskID  string `json:"taskId"`
	State   string `json:"state"`
	Payload any    `json:"payload,omitempty"`
}

// Notifier posts task status notifications.
type Notifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger,
	}
}

// Notify delivers one notification. Failures are logged and swallowed; the
// task already finished and nothing upstream can act on a delivery error.
func (n *Notifier) Notify(ctx context.Context, cfg *Config, note Notification) {
	body, err := json.Marshal(note)
	if err != nil {
		n.fail(cfg, note, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		n.fail(cfg, note, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	n.applyAuth(req, cfg)

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail(cfg, note, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("push notification rejected",
			"task_id", note.TaskID, "url", cfg.URL, "status", resp.StatusCode)
		metrics.PushDeliveriesTotal.WithLabelValues("rejected").Inc()
		return
	}
	metrics.PushDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (n *Notifier) applyAuth(req *http.Request, cfg *Config) {
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	if auth := cfg.Authentication; auth != nil && auth.Credentials != "" {
		// Basic wins over bearer; anything else is a custom header
		// carrying the credential verbatim.
		switch {
		case hasScheme(auth.Schemes, "basic"):
			enc := base64.StdEncoding.EncodeToString([]byte(auth.Credentials))
			req.Header.Set("Authorization", "Basic "+enc)
		case hasScheme(auth.Schemes, "bearer"):
			req.Header.Set("Authorization", "Bearer "+auth.Credentials)
		case len(auth.Schemes) > 0:
			req.Header.Set(auth.Schemes[0], auth.Credentials)
		}
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
}

func hasScheme(schemes []string, want string) bool {
	for _, s := range schemes {
		if s == want {
			return true
		}
	}
	return false
}

func (n *Notifier) fail(cfg *Config, note Notification, err error) {
	n.logger.Warn("push notification failed",
		"task_id", note.TaskID, "url", cfg.URL, "error", err)
	metrics.PushDeliveriesTotal.WithLabelValues("failed").Inc()
}
