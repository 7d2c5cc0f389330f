package main

import (
	"net/http"
	"os"
	"time"

	"github.com/shawngo/netlify-forms/app"
	"github.com/shawngo/netlify-forms/config"
	"github.com/shawngo/netlify-forms/notify"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(notify.NewRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(app.NewNetlifyClient),
		fx.Provide(app.NewSubmissionStore),
		fx.Provide(app.NewExportBuffer),
		fx.Provide(app.NewCsvExporter),
		fx.Provide(app.NewWebhookIngestor),
		fx.Provide(app.NewService),
		fx.Provide(app.NewHTTPServer),

		fx.Invoke(func(*http.Server) {}),
	).Run()
}
