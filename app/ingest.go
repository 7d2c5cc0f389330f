package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shawngo/netlify-forms/notify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// IngestStatus classifies the outcome of one webhook delivery.
type IngestStatus string

const (
	IngestStored    IngestStatus = "success"
	IngestDuplicate IngestStatus = "duplicate"
)

type IngestResult struct {
	Status  IngestStatus
	LocalID uint
}

// WebhookPayload is the submission document Netlify POSTs to form
// notification webhooks.
type WebhookPayload struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	FormName  string         `json:"form_name"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Summary   string         `json:"summary"`
	CreatedAt string         `json:"created_at"`
	Data      map[string]any `json:"data"`
}

// WebhookIngestor validates, deduplicates and stores inbound form
// submission webhooks.
type WebhookIngestor struct {
	log     *zap.Logger
	store   *SubmissionStore
	senders notify.Registry
	now     func() time.Time
}

func NewWebhookIngestor(lc fx.Lifecycle, log *zap.Logger, store *SubmissionStore, senders notify.Registry) *WebhookIngestor {
	return &WebhookIngestor{log, store, senders, func() time.Time { return time.Now().UTC() }}
}

// Ingest processes one webhook delivery for a site. Repeated deliveries of
// the same Netlify submission id store exactly one row; the repeats report
// IngestDuplicate and are not an error.
func (ing *WebhookIngestor) Ingest(ctx context.Context, siteID string, body []byte) (IngestResult, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		ing.log.Sugar().Errorw("Invalid JSON payload received", "site_id", siteID, "err", err)
		return IngestResult{}, ErrInvalidPayload
	}

	ing.log.Sugar().Infow("Webhook received", "site_id", siteID, "submission_id", payload.ID)

	customer, err := ing.store.CustomerBySiteID(ctx, siteID)
	if errors.Is(err, ErrNotFound) {
		ing.log.Sugar().Warnw("No customer found for site", "site_id", siteID)
		return IngestResult{}, ErrUnknownSite
	} else if err != nil {
		return IngestResult{}, err
	}

	if payload.ID == "" || payload.FormID == "" {
		ing.log.Sugar().Errorw("Missing required fields in webhook payload", "site_id", siteID)
		return IngestResult{}, ErrMissingFields
	}

	exists, err := ing.store.Exists(ctx, payload.ID)
	if err != nil {
		return IngestResult{}, err
	}
	if exists {
		ing.log.Sugar().Infow("Duplicate submission ignored", "submission_id", payload.ID)
		return IngestResult{Status: IngestDuplicate}, nil
	}

	sub := ing.buildSubmission(customer, siteID, &payload, body)

	localID, inserted, err := ing.store.Insert(ctx, sub)
	if err != nil {
		return IngestResult{}, err
	}
	if !inserted {
		// A concurrent delivery of the same event won the insert.
		ing.log.Sugar().Infow("Duplicate submission ignored", "submission_id", payload.ID)
		return IngestResult{Status: IngestDuplicate}, nil
	}

	ing.log.Sugar().Infow("Successfully stored submission",
		"submission_id", payload.ID, "local_id", localID)

	ing.announce(ctx, customer, sub)

	return IngestResult{Status: IngestStored, LocalID: localID}, nil
}

func (ing *WebhookIngestor) buildSubmission(customer *Customer, siteID string, payload *WebhookPayload, raw []byte) *Submission {
	receivedAt := ing.now()

	name := payload.Name
	if name == "" {
		name = payload.Summary
	}

	return &Submission{
		CustomerID:          customer.ID,
		SiteID:              siteID,
		FormID:              payload.FormID,
		FormName:            payload.FormName,
		NetlifySubmissionID: payload.ID,
		SubmissionData:      string(raw),
		Email:               payload.Email,
		SubmissionName:      name,
		CreatedAt:           parseCreatedAt(payload.CreatedAt, receivedAt),
		ReceivedAt:          receivedAt,
	}
}

// announce emails the customer contact about the new submission. Failures
// never affect the ingestion outcome.
func (ing *WebhookIngestor) announce(ctx context.Context, customer *Customer, sub *Submission) {
	sender, ok := ing.senders["email"]
	if !ok || customer.NotifyEmail == "" {
		return
	}

	subject := fmt.Sprintf("New submission on %s", sub.FormName)
	body := notify.FormatSubmissionEmail(sub.FormName, sub.SubmissionName, sub.Email, sub.CreatedAt)
	id, err := sender.Send(ctx, subject, body, customer.NotifyEmail)
	if err != nil {
		ing.log.Sugar().Infow("Failed to send submission notification", "err", err)
		return
	}
	ing.log.Sugar().Infow("Sent submission notification", "message_id", id)
}

var createdAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseCreatedAt resolves the provider-reported origin time, falling back to
// the local receipt time when the field is absent or unparseable.
func parseCreatedAt(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
