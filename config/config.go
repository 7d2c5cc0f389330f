package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	ServerDNS      string `env:"SERVER_DNS" envDefault:"http://localhost:8080"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"netlify_forms.sqlite"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	Netlify struct {
		APIToken      string `env:"NETLIFY_API_TOKEN"`
		BaseURL       string `env:"NETLIFY_API_BASE_URL" envDefault:"https://api.netlify.com/api/v1"`
		DefaultSiteID string `env:"NETLIFY_DEFAULT_SITE_ID"`
		TimeoutSecs   int    `env:"NETLIFY_TIMEOUT_SECS" envDefault:"15"`
	}

	// Exports larger than this many submissions go through the chunked
	// batch path instead of being returned inline.
	ExportChunkSize int `env:"EXPORT_CHUNK_SIZE" envDefault:"500"`

	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	env.Parse(cfg)

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env != "production" {
			cfg.log.Sugar().Infof("%s (admin API will be unauthenticated outside production)", err)
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	return cfg
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
