package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shawngo/netlify-forms/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service orchestrates customer management, form overviews, exports and
// submission sync over the store, the exporter and the Netlify API client.
type Service struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *SubmissionStore
	exporter *CsvExporter
	netlify  *NetlifyClient
}

func NewService(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, store *SubmissionStore, exporter *CsvExporter, netlify *NetlifyClient) *Service {
	return &Service{cfg, log, store, exporter, netlify}
}

// CustomerInput carries the editable customer fields of the admin API.
type CustomerInput struct {
	Name          string
	SiteID        string
	NotifyEmail   string
	UserID        uint
	SelectedForms []string
}

func (svc *Service) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	if in.Name == "" {
		return nil, errors.New("customer name is required")
	}
	siteID := in.SiteID
	if siteID == "" {
		siteID = svc.cfg.Netlify.DefaultSiteID
	}
	if siteID == "" {
		return nil, errors.New("site id is required")
	}

	customer := &Customer{
		Name:          in.Name,
		UserID:        in.UserID,
		SiteID:        siteID,
		NotifyEmail:   in.NotifyEmail,
		SelectedForms: FormIDs(in.SelectedForms),
	}
	if err := svc.store.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	svc.log.Sugar().Infof("Created customer %v (%s) for site %s", customer.ID, in.Name, siteID)
	return customer, nil
}

func (svc *Service) UpdateCustomer(ctx context.Context, id uint, in CustomerInput) (*Customer, error) {
	customer, err := svc.store.Customer(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		customer.Name = in.Name
	}
	if in.SiteID != "" {
		customer.SiteID = in.SiteID
	}
	if in.NotifyEmail != "" {
		customer.NotifyEmail = in.NotifyEmail
	}
	if in.UserID != 0 {
		customer.UserID = in.UserID
	}
	if in.SelectedForms != nil {
		customer.SelectedForms = FormIDs(in.SelectedForms)
	}

	if err := svc.store.SaveCustomer(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// DeleteCustomer removes the customer together with its stored submissions.
func (svc *Service) DeleteCustomer(ctx context.Context, id uint) error {
	if _, err := svc.store.Customer(ctx, id); err != nil {
		return err
	}
	if err := svc.store.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	svc.log.Sugar().Infof("Deleted customer %v and its submissions", id)
	return nil
}

func (svc *Service) Customer(ctx context.Context, id uint) (*Customer, error) {
	return svc.store.Customer(ctx, id)
}

func (svc *Service) Customers(ctx context.Context) ([]Customer, error) {
	return svc.store.Customers(ctx)
}

// WebhookURL is the address a Netlify form notification should POST to for
// this customer's site.
func (svc *Service) WebhookURL(customer *Customer) string {
	return fmt.Sprintf("%s/webhooks/netlify/%s",
		strings.TrimSuffix(svc.cfg.ServerDNS, "/"), customer.SiteID)
}

// FormOverview is one row of the customer's forms dashboard.
type FormOverview struct {
	FormID          string     `json:"form_id"`
	Name            string     `json:"name"`
	Selected        bool       `json:"selected"`
	SubmissionCount int64      `json:"submission_count"`
	LastSubmission  *time.Time `json:"last_submission,omitempty"`
	CreatedAt       string     `json:"created_at,omitempty"`
}

// FormsOverview joins the site's form list from the Netlify API with local
// submission counts and the customer's selections.
func (svc *Service) FormsOverview(ctx context.Context, customerID uint) ([]FormOverview, error) {
	customer, err := svc.store.Customer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	counts, err := svc.store.CountByForm(ctx, customerID)
	if err != nil {
		return nil, err
	}

	forms := svc.netlify.Forms(ctx, customer.SiteID)
	overview := make([]FormOverview, 0, len(forms))
	for _, form := range forms {
		row := FormOverview{
			FormID:          form.ID,
			Name:            form.Name,
			Selected:        customer.SelectedForms.Contains(form.ID),
			SubmissionCount: counts[form.ID],
			CreatedAt:       form.CreatedAt,
		}
		if row.SubmissionCount > 0 {
			if subs, err := svc.store.Query(ctx, customerID, form.ID); err == nil && len(subs) > 0 {
				last := subs[0].CreatedAt
				row.LastSubmission = &last
			}
		}
		overview = append(overview, row)
	}
	return overview, nil
}

// FormSubmissions returns a customer's stored submissions for one form,
// newest first. Forms outside the customer's selection are rejected.
func (svc *Service) FormSubmissions(ctx context.Context, customerID uint, formID string) ([]Submission, error) {
	customer, err := svc.store.Customer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.SelectedForms.Contains(formID) {
		return nil, ErrForbidden
	}
	return svc.store.Query(ctx, customerID, formID)
}

// SubmissionDetail fetches one submission, preferring the provider copy and
// falling back to the local row when the API yields nothing.
func (svc *Service) SubmissionDetail(ctx context.Context, customerID uint, formID, submissionID string) (*NetlifySubmission, error) {
	customer, err := svc.store.Customer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.SelectedForms.Contains(formID) {
		return nil, ErrForbidden
	}

	if sub := svc.netlify.Submission(ctx, submissionID); sub != nil && sub.ID != "" {
		return sub, nil
	}

	local, err := svc.store.FindByNetlifyID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if local.CustomerID != customerID || local.FormID != formID {
		return nil, ErrNotFound
	}
	return &NetlifySubmission{
		ID:        local.NetlifySubmissionID,
		FormID:    local.FormID,
		FormName:  local.FormName,
		Email:     local.Email,
		Name:      local.SubmissionName,
		CreatedAt: local.CreatedAt.Format(time.RFC3339),
		Data:      local.Data(),
	}, nil
}

// Export renders a form's submissions as CSV, dispatching to the batched
// path for large result sets.
func (svc *Service) Export(ctx context.Context, customerID uint, formID string) (ExportOutput, error) {
	customer, err := svc.store.Customer(ctx, customerID)
	if err != nil {
		return ExportOutput{}, err
	}
	if !customer.SelectedForms.Contains(formID) {
		return ExportOutput{}, ErrForbidden
	}

	subs, err := svc.store.Query(ctx, customerID, formID)
	if err != nil {
		return ExportOutput{}, err
	}

	formName := formID
	for _, form := range svc.netlify.Forms(ctx, customer.SiteID) {
		if form.ID == formID {
			formName = form.Name
			break
		}
	}
	if formName == formID && len(subs) > 0 && subs[0].FormName != "" {
		formName = subs[0].FormName
	}

	return svc.exporter.Export(subs, formName), nil
}

// SyncReport summarizes one sync run against the Netlify API.
type SyncReport struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
}

// Sync pulls every selected form's submissions from the Netlify API and
// stores the ones not seen before. Already-stored submissions are skipped.
func (svc *Service) Sync(ctx context.Context, customerID uint) (SyncReport, error) {
	customer, err := svc.store.Customer(ctx, customerID)
	if err != nil {
		return SyncReport{}, err
	}

	report := SyncReport{}
	for _, formID := range customer.SelectedForms {
		for _, remote := range svc.netlify.Submissions(ctx, customer.SiteID, formID) {
			if remote.ID == "" {
				continue
			}

			sub, err := svc.localCopy(customer, formID, &remote)
			if err != nil {
				return report, err
			}
			_, inserted, err := svc.store.Insert(ctx, sub)
			if err != nil {
				return report, err
			}
			if inserted {
				report.Synced++
			} else {
				report.Skipped++
			}
		}
	}

	svc.log.Sugar().Infow("Sync complete",
		"customer_id", customerID, "synced", report.Synced, "skipped", report.Skipped)
	return report, nil
}

func (svc *Service) localCopy(customer *Customer, formID string, remote *NetlifySubmission) (*Submission, error) {
	raw, err := json.Marshal(remote)
	if err != nil {
		return nil, fmt.Errorf("marshalling submission %s: %w", remote.ID, err)
	}

	now := time.Now().UTC()
	name := remote.Name
	if name == "" {
		name = remote.Summary
	}

	return &Submission{
		CustomerID:          customer.ID,
		SiteID:              customer.SiteID,
		FormID:              formID,
		FormName:            remote.FormName,
		NetlifySubmissionID: remote.ID,
		SubmissionData:      string(raw),
		Email:               remote.Email,
		SubmissionName:      name,
		CreatedAt:           parseCreatedAt(remote.CreatedAt, now),
		ReceivedAt:          now,
	}, nil
}
