package linkstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/model"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(gateway.New(gateway.Config{Primary: srv.URL}, nil, logger), logger)
}

func TestCreateThenList(t *testing.T) {
	var stored []map[string]any

	r := chi.NewRouter()
	r.Post("/customer-social-links", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		stored = append(stored, body)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	r.Get("/customer-social-links/{customerId}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cust-1", chi.URLParam(r, "customerId"))
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accounts": stored})
	})
	c := newClient(t, r)

	acc := model.ConnectedAccount{
		ID:          "linkedin_12345",
		Platform:    model.PlatformLinkedIn,
		AccountType: model.AccountTypeOrganization,
		Pages:       []model.Page{},
		Channels:    []model.Channel{},
	}
	require.NoError(t, c.Create(context.Background(), "cust-1", acc))
	require.Len(t, stored, 1)
	assert.Equal(t, "cust-1", stored[0]["customerId"])
	assert.Equal(t, "linkedin_12345", stored[0]["id"], "account fields are flattened into the body")

	got, err := c.List(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "organization", got[0]["accountType"])
}

func TestWriteFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"success false", http.StatusOK, `{"success":false,"error":"duplicate"}`, apperror.ErrPersistence},
		{"bad request", http.StatusBadRequest, `{"success":false}`, apperror.ErrPersistence},
		{"server error", http.StatusInternalServerError, `{}`, apperror.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))

			err := c.Create(context.Background(), "cust-1", model.ConnectedAccount{ID: "1"})
			assert.ErrorIs(t, err, tt.wantErr)

			err = c.Delete(context.Background(), "1")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(gateway.New(gateway.Config{Primary: url}, nil, logger), logger)

	_, err := c.List(context.Background(), "cust-1")
	assert.ErrorIs(t, err, apperror.ErrNetwork)
	assert.NotErrorIs(t, err, apperror.ErrPersistence)
}

func TestListEmptyAccountsIsNonNil(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true}`)
	}))

	got, err := c.List(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
