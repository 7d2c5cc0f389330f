package notify

import (
	"context"
	"net/http"

	"github.com/shawngo/netlify-forms/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sender delivers one notification message to a recipient, returning a
// provider-assigned message id.
type Sender interface {
	Send(ctx context.Context, subject, body, recipient string) (string, error)
}

type Registry map[string]Sender

// NewRegistry wires the configured senders. Email is only registered when
// mailgun credentials are present; with no senders registered, submission
// notifications are silently skipped.
func NewRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	registry := Registry{}

	if cfg.Mailgun.Domain != "" && cfg.Mailgun.APIKey != "" {
		registry["email"] = &mailgunSender{base}
	} else {
		log.Sugar().Info("Mailgun is not configured, submission notifications are disabled")
	}
	return registry
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
