package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shawngo/netlify-forms/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiFixture struct {
	handler http.Handler
	store   *SubmissionStore
	buffer  *ExportBuffer
	svc     *Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := zap.NewNop()
	cfg := newTestConfig()
	cfg.Netlify.APIToken = "" // provider calls short-circuit to empty

	store := newTestStore(t)
	buffer := NewExportBuffer(nil)
	exporter := &CsvExporter{log: log, buffer: buffer, chunkSize: 500}
	netlify := &NetlifyClient{log: log, cfg: cfg, transport: http.DefaultTransport}
	svc := &Service{cfg: cfg, log: log, store: store, exporter: exporter, netlify: netlify}
	ing := &WebhookIngestor{
		log:     log,
		store:   store,
		senders: notify.Registry{},
		now:     func() time.Time { return time.Now().UTC() },
	}

	return &apiFixture{
		handler: router(cfg, log, svc, ing, buffer),
		store:   store,
		buffer:  buffer,
		svc:     svc,
	}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEndpointStoresSubmission(t *testing.T) {
	f := newAPIFixture(t)
	seedCustomer(t, f.store, "site-1")

	rec := f.do(http.MethodPost, "/webhooks/netlify/site-1",
		`{"id": "sub-1", "form_id": "form-1", "email": "x@y.com", "data": {"q1": "yes"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.NotZero(t, resp["local_id"])
}

func TestWebhookEndpointDuplicateReturnsOK(t *testing.T) {
	f := newAPIFixture(t)
	seedCustomer(t, f.store, "site-1")
	body := `{"id": "sub-1", "form_id": "form-1"}`

	first := f.do(http.MethodPost, "/webhooks/netlify/site-1", body)
	assert.Equal(t, http.StatusOK, first.Code)

	second := f.do(http.MethodPost, "/webhooks/netlify/site-1", body)
	assert.Equal(t, http.StatusOK, second.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["status"])
}

func TestWebhookEndpointStatusCodes(t *testing.T) {
	f := newAPIFixture(t)
	seedCustomer(t, f.store, "site-1")

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid json", "/webhooks/netlify/site-1", `{oops`, http.StatusBadRequest},
		{"missing fields", "/webhooks/netlify/site-1", `{"form_id": "form-1"}`, http.StatusBadRequest},
		{"unknown site", "/webhooks/netlify/ghost", `{"id": "s", "form_id": "f"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCustomerCRUD(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/customers/",
		`{"name": "Acme", "site_id": "site-1", "user_id": 42, "selected_forms": ["form-1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created customerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Acme", created.Name)
	assert.Equal(t, "http://example.test/webhooks/netlify/site-1", created.WebhookURL)

	rec = f.do(http.MethodGet, fmt.Sprintf("/api/customers/%d", created.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, fmt.Sprintf("/api/customers/%d", created.ID),
		`{"selected_forms": ["form-1", "form-2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated customerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, []string{"form-1", "form-2"}, updated.SelectedForms)

	rec = f.do(http.MethodDelete, fmt.Sprintf("/api/customers/%d", created.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, fmt.Sprintf("/api/customers/%d", created.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCustomerValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/customers/", `{"site_id": "site-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/customers/", `{"name": "Acme"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFormSubmissionsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	customer := &Customer{Name: "Acme", SiteID: "site-1", SelectedForms: FormIDs{"form-1"}}
	require.NoError(t, f.store.CreateCustomer(context.Background(), customer))

	f.do(http.MethodPost, "/webhooks/netlify/site-1",
		`{"id": "sub-1", "form_id": "form-1", "name": "X", "data": {"q1": "yes"}}`)

	rec := f.do(http.MethodGet, fmt.Sprintf("/api/customers/%d/forms/form-1/submissions", customer.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var subs []submissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.Equal(t, map[string]any{"q1": "yes"}, subs[0].Data)

	// Forms outside the customer's selection are rejected.
	rec = f.do(http.MethodGet, fmt.Sprintf("/api/customers/%d/forms/form-2/submissions", customer.ID), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExportEndpointDirectDownload(t *testing.T) {
	f := newAPIFixture(t)
	customer := &Customer{Name: "Acme", SiteID: "site-1", SelectedForms: FormIDs{"form-1"}}
	require.NoError(t, f.store.CreateCustomer(context.Background(), customer))

	f.do(http.MethodPost, "/webhooks/netlify/site-1",
		`{"id": "a", "form_id": "form-1", "form_name": "Contact Us", "email": "x@y.com", "name": "X", "created_at": "2024-01-01T10:00:00Z", "data": {"q1": "yes"}}`)

	rec := f.do(http.MethodGet, fmt.Sprintf("/api/customers/%d/forms/form-1/export", customer.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Contact_Us_submissions_")

	body := rec.Body.String()
	assert.Contains(t, body, `"id","created_at","email","name","q1"`)
	assert.Contains(t, body, `"a","2024-01-01 10:00:00","x@y.com","X","yes"`)
}

func TestExportEndpointBatchedWithOneShotDownload(t *testing.T) {
	f := newAPIFixture(t)
	customer := &Customer{Name: "Acme", SiteID: "site-1", SelectedForms: FormIDs{"form-1"}}
	require.NoError(t, f.store.CreateCustomer(context.Background(), customer))

	ctx := context.Background()
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 501; i++ {
		_, _, err := f.store.Insert(ctx, &Submission{
			CustomerID:          customer.ID,
			SiteID:              "site-1",
			FormID:              "form-1",
			NetlifySubmissionID: fmt.Sprintf("s%03d", i),
			SubmissionData:      `{"data":{"q1":"yes"}}`,
			CreatedAt:           created,
			ReceivedAt:          created,
		})
		require.NoError(t, err)
	}

	rec := f.do(http.MethodGet, fmt.Sprintf("/api/customers/%d/forms/form-1/export", customer.ID), "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)

	download := f.do(http.MethodGet, "/api/exports/"+token, "")
	require.Equal(t, http.StatusOK, download.Code)
	assert.Equal(t, 502, strings.Count(download.Body.String(), "\n"))

	// The token is consumed by the first download.
	again := f.do(http.MethodGet, "/api/exports/"+token, "")
	assert.Equal(t, http.StatusNotFound, again.Code)
}

func TestDownloadExportUnknownToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/api/exports/bogus", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
