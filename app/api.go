package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shawngo/netlify-forms/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *Service, ing *WebhookIngestor, buffer *ExportBuffer) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, ing, buffer)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *Service, ing *WebhookIngestor, buffer *ExportBuffer) http.Handler {
	ctrl := &controller{log, svc, ing, buffer}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Post("/webhooks/netlify/{site_id}", ctrl.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("netlify-forms", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/customers", func(r chi.Router) {
			r.Post("/", ctrl.createCustomer)
			r.Get("/", ctrl.listCustomers)
			r.Get("/{customer_id}", ctrl.getCustomer)
			r.Put("/{customer_id}", ctrl.updateCustomer)
			r.Delete("/{customer_id}", ctrl.deleteCustomer)
			r.Post("/{customer_id}/sync", ctrl.syncSubmissions)
			r.Get("/{customer_id}/forms", ctrl.formsOverview)
			r.Get("/{customer_id}/forms/{form_id}/submissions", ctrl.formSubmissions)
			r.Get("/{customer_id}/forms/{form_id}/submissions/{submission_id}", ctrl.submissionDetail)
			r.Get("/{customer_id}/forms/{form_id}/export", ctrl.exportSubmissions)
		})
		r.Get("/exports/{token}", ctrl.downloadExport)
	})

	return r
}

type controller struct {
	log    *zap.Logger
	svc    *Service
	ing    *WebhookIngestor
	buffer *ExportBuffer
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	ctrl.resolve(w, status, map[string]any{"error": err.Error()})
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		ctrl.log.Sugar().Errorw("Request failed", "error", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (ctrl *controller) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := chi.URLParam(r, "site_id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	result, err := ctrl.ing.Ingest(ctx, siteID, body)
	switch {
	case errors.Is(err, ErrInvalidPayload):
		ctrl.resolve(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
	case errors.Is(err, ErrUnknownSite):
		ctrl.resolve(w, http.StatusNotFound, map[string]any{"error": "Site not found"})
	case errors.Is(err, ErrMissingFields):
		ctrl.resolve(w, http.StatusBadRequest, map[string]any{"error": "Missing required fields"})
	case err != nil:
		ctrl.log.Sugar().Errorw("Error processing webhook", "site_id", siteID, "err", err)
		ctrl.resolve(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
	case result.Status == IngestDuplicate:
		ctrl.resolve(w, http.StatusOK, map[string]any{
			"status":  "duplicate",
			"message": "Submission already exists",
		})
	default:
		ctrl.resolve(w, http.StatusOK, map[string]any{
			"status":   "success",
			"message":  "Submission stored successfully",
			"local_id": result.LocalID,
		})
	}
}

type customerRequest struct {
	Name          string   `json:"name"`
	SiteID        string   `json:"site_id"`
	NotifyEmail   string   `json:"notify_email"`
	UserID        uint     `json:"user_id"`
	SelectedForms []string `json:"selected_forms"`
}

func (req customerRequest) input() CustomerInput {
	return CustomerInput{
		Name:          req.Name,
		SiteID:        req.SiteID,
		NotifyEmail:   req.NotifyEmail,
		UserID:        req.UserID,
		SelectedForms: req.SelectedForms,
	}
}

type customerResponse struct {
	ID            uint     `json:"id"`
	Name          string   `json:"name"`
	SiteID        string   `json:"site_id"`
	NotifyEmail   string   `json:"notify_email,omitempty"`
	UserID        uint     `json:"user_id"`
	SelectedForms []string `json:"selected_forms"`
	WebhookURL    string   `json:"webhook_url"`
}

func (ctrl *controller) customerView(customer *Customer) customerResponse {
	return customerResponse{
		ID:            customer.ID,
		Name:          customer.Name,
		SiteID:        customer.SiteID,
		NotifyEmail:   customer.NotifyEmail,
		UserID:        customer.UserID,
		SelectedForms: []string(customer.SelectedForms),
		WebhookURL:    ctrl.svc.WebhookURL(customer),
	}
}

func (ctrl *controller) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	customer, err := ctrl.svc.CreateCustomer(r.Context(), req.input())
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, ctrl.customerView(customer))
}

func (ctrl *controller) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := ctrl.svc.Customers(r.Context())
	if err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]customerResponse, len(customers))
	for i := range customers {
		views[i] = ctrl.customerView(&customers[i])
	}
	ctrl.resolve(w, http.StatusOK, views)
}

func (ctrl *controller) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := ctrl.svc.Customer(r.Context(), parseID(r, "customer_id"))
	if err != nil {
		ctrl.rejectLookup(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ctrl.customerView(customer))
}

func (ctrl *controller) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	customer, err := ctrl.svc.UpdateCustomer(r.Context(), parseID(r, "customer_id"), req.input())
	if err != nil {
		ctrl.rejectLookup(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ctrl.customerView(customer))
}

func (ctrl *controller) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteCustomer(r.Context(), parseID(r, "customer_id")); err != nil {
		ctrl.rejectLookup(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (ctrl *controller) syncSubmissions(w http.ResponseWriter, r *http.Request) {
	report, err := ctrl.svc.Sync(r.Context(), parseID(r, "customer_id"))
	if err != nil {
		ctrl.rejectLookup(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, report)
}

func (ctrl *controller) formsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := ctrl.svc.FormsOverview(r.Context(), parseID(r, "customer_id"))
	if err != nil {
		ctrl.rejectLookup(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, overview)
}

type submissionResponse struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	FormName  string         `json:"form_name,omitempty"`
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name,omitempty"`
	CreatedAt string         `json:"created_at"`
	Data      map[string]any `json:"data"`
}

func (ctrl *controller) formSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := ctrl.svc.FormSubmissions(r.Context(), parseID(r, "customer_id"), chi.URLParam(r, "form_id"))
	if err != nil {
		ctrl.rejectLookup(w, err)
		return
	}

	views := make([]submissionResponse, len(subs))
	for i := range subs {
		sub := &subs[i]
		views[i] = submissionResponse{
			ID:        sub.NetlifySubmissionID,
			FormID:    sub.FormID,
			FormName:  sub.FormName,
			Email:     sub.Email,
			Name:      sub.SubmissionName,
			CreatedAt: sub.CreatedAt.Format(time.RFC3339),
			Data:      sub.Data(),
		}
	}
	ctrl.resolve(w, http.StatusOK, views)
}

func (ctrl *controller) submissionDetail(w http.ResponseWriter, r *http.Request) {
	sub, err := ctrl.svc.SubmissionDetail(
		r.Context(),
		parseID(r, "customer_id"),
		chi.URLParam(r, "form_id"),
		chi.URLParam(r, "submission_id"),
	)
	if err != nil {
		ctrl.rejectLookup(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, sub)
}

func (ctrl *controller) exportSubmissions(w http.ResponseWriter, r *http.Request) {
	out, err := ctrl.svc.Export(r.Context(), parseID(r, "customer_id"), chi.URLParam(r, "form_id"))
	if err != nil {
		ctrl.rejectLookup(w, err)
		return
	}

	if out.Batched() {
		ctrl.resolve(w, http.StatusAccepted, map[string]any{
			"status": "batched",
			"token":  out.Token,
		})
		return
	}
	writeCSV(w, out.Filename, out.Data)
}

func (ctrl *controller) downloadExport(w http.ResponseWriter, r *http.Request) {
	data, filename, err := ctrl.buffer.Take(chi.URLParam(r, "token"))
	if err != nil {
		ctrl.reject(w, http.StatusNotFound, err)
		return
	}
	writeCSV(w, filename, data)
}

func writeCSV(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

func (ctrl *controller) rejectLookup(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, ErrForbidden):
		ctrl.reject(w, http.StatusForbidden, err)
	default:
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func parseID(r *http.Request, param string) uint {
	u, _ := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	return uint(u)
}
