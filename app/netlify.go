package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/cenkalti/backoff/v4"
	"github.com/shawngo/netlify-forms/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NetlifyForm is a form definition as reported by the Netlify API.
type NetlifyForm struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// NetlifySubmission is one submission as reported by the Netlify API. It
// carries the same fields as the webhook payload.
type NetlifySubmission struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	FormName  string         `json:"form_name"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Summary   string         `json:"summary"`
	CreatedAt string         `json:"created_at"`
	Data      map[string]any `json:"data"`
}

// NetlifyClient wraps the read-only Netlify forms API. Transport failures
// are retried briefly, then logged and absorbed: callers always receive a
// value, possibly empty, never an error.
type NetlifyClient struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}

func NewNetlifyClient(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) *NetlifyClient {
	return &NetlifyClient{log, cfg, transport}
}

// Forms lists the forms defined on a site.
func (c *NetlifyClient) Forms(ctx context.Context, siteID string) []NetlifyForm {
	if c.cfg.Netlify.APIToken == "" || siteID == "" {
		return nil
	}

	var forms []NetlifyForm
	if err := c.get(ctx, &forms, "sites", siteID, "forms"); err != nil {
		c.log.Sugar().Errorw("Failed to fetch forms", "site_id", siteID, "err", err)
		return nil
	}
	return forms
}

// Submissions lists the submissions recorded against one form.
func (c *NetlifyClient) Submissions(ctx context.Context, siteID, formID string) []NetlifySubmission {
	if c.cfg.Netlify.APIToken == "" || siteID == "" || formID == "" {
		return nil
	}

	var subs []NetlifySubmission
	if err := c.get(ctx, &subs, "sites", siteID, "forms", formID, "submissions"); err != nil {
		c.log.Sugar().Errorw("Failed to fetch submissions",
			"site_id", siteID, "form_id", formID, "err", err)
		return nil
	}
	return subs
}

// Submission fetches a single submission by its Netlify id.
func (c *NetlifyClient) Submission(ctx context.Context, submissionID string) *NetlifySubmission {
	if c.cfg.Netlify.APIToken == "" || submissionID == "" {
		return nil
	}

	sub := &NetlifySubmission{}
	if err := c.get(ctx, sub, "submissions", submissionID); err != nil {
		c.log.Sugar().Errorw("Failed to fetch submission", "submission_id", submissionID, "err", err)
		return nil
	}
	return sub
}

func (c *NetlifyClient) get(ctx context.Context, out any, pathSegments ...string) error {
	timeout := time.Duration(c.cfg.Netlify.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimSuffix(c.cfg.Netlify.BaseURL, "/") + "/" + strings.Join(pathSegments, "/")

	call := func() error {
		return requests.URL(endpoint).
			Transport(c.transport).
			Bearer(c.cfg.Netlify.APIToken).
			ContentType("application/json").
			ToJSON(out).
			Fetch(ctx)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(call, policy)
}
