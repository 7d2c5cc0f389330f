package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestNetlifyClient(t *testing.T, handler http.Handler) *NetlifyClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := newTestConfig()
	cfg.Netlify.BaseURL = server.URL
	return &NetlifyClient{log: zap.NewNop(), cfg: cfg, transport: http.DefaultTransport}
}

func TestNetlifyClientForms(t *testing.T) {
	var gotAuth, gotPath string
	client := newTestNetlifyClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "form-1", "name": "Contact Us", "site_id": "site-1"}]`))
	}))

	forms := client.Forms(context.Background(), "site-1")
	require.Len(t, forms, 1)
	assert.Equal(t, "form-1", forms[0].ID)
	assert.Equal(t, "Contact Us", forms[0].Name)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "/sites/site-1/forms", gotPath)
}

func TestNetlifyClientSubmissions(t *testing.T) {
	client := newTestNetlifyClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites/site-1/forms/form-1/submissions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "sub-1", "form_id": "form-1", "email": "x@y.com", "data": {"q1": "yes"}}]`))
	}))

	subs := client.Submissions(context.Background(), "site-1", "form-1")
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.Equal(t, map[string]any{"q1": "yes"}, subs[0].Data)
}

func TestNetlifyClientSubmission(t *testing.T) {
	client := newTestNetlifyClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submissions/sub-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "sub-1", "form_id": "form-1"}`))
	}))

	sub := client.Submission(context.Background(), "sub-1")
	require.NotNil(t, sub)
	assert.Equal(t, "sub-1", sub.ID)
}

func TestNetlifyClientSwallowsTransportErrors(t *testing.T) {
	client := newTestNetlifyClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	assert.Nil(t, client.Forms(context.Background(), "site-1"))
	assert.Nil(t, client.Submissions(context.Background(), "site-1", "form-1"))
	assert.Nil(t, client.Submission(context.Background(), "sub-1"))
}

func TestNetlifyClientRequiresToken(t *testing.T) {
	called := false
	client := newTestNetlifyClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	client.cfg.Netlify.APIToken = ""

	assert.Nil(t, client.Forms(context.Background(), "site-1"))
	assert.Nil(t, client.Submissions(context.Background(), "site-1", "form-1"))
	assert.Nil(t, client.Submission(context.Background(), "sub-1"))
	assert.False(t, called)
}
