package app

import (
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewTransport provides the RoundTripper shared by the Netlify client and
// the notification senders. Tests swap it for a stub.
func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	return http.DefaultTransport
}
