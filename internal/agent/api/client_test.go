package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return New(srv.URL, "dev-1", "s3cret", 5*time.Second, logging.NewDiscard())
}

func TestLoginAndAuthedCall(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/devices/login":
			var req loginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "dev-1", req.DeviceID)
			assert.Equal(t, "s3cret", req.Secret)
			_ = json.NewEncoder(w).Encode(loginResponse{AccessToken: "tok-1"})
		case "/v1/uploads/sign":
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(SignUploadResponse{
				UploadURL: "https://store/put?sig=x",
				RemoteURL: "https://store/captures/a1",
				ExpiresAt: time.Now().Add(15 * time.Minute),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx))

	resp, err := c.SignUpload(ctx, "a1", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "https://store/captures/a1", resp.RemoteURL)
	assert.NotEmpty(t, resp.UploadURL)
}

func TestPost_RetriesOnceAfterTokenExpiry(t *testing.T) {
	logins := 0
	signs := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/devices/login":
			logins++
			_ = json.NewEncoder(w).Encode(loginResponse{AccessToken: "fresh"})
		case "/v1/uploads/sign":
			signs++
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(apiError{Error: common.ErrTokenExpired.Error()})
				return
			}
			_ = json.NewEncoder(w).Encode(SignUploadResponse{UploadURL: "u", RemoteURL: "r"})
		}
	}))
	defer srv.Close()

	c := newClient(t, srv)
	c.accessToken = "stale"

	resp, err := c.SignUpload(context.Background(), "a1", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "r", resp.RemoteURL)
	assert.Equal(t, 1, logins)
	assert.Equal(t, 2, signs)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error is transient", http.StatusBadGateway, "", common.ErrTransient},
		{"unauthorized surfaces", http.StatusForbidden, `{"error":"device disabled"}`, common.ErrUnauthorized},
		{"validation is permanent", http.StatusUnprocessableEntity, `{"error":"unknown schedule"}`, common.ErrPermanentRejected},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newClient(t, srv)
			_, err := c.SubmitOperations(context.Background(), []OperationPayload{{ID: "x"}})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUnreachableServerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := newClient(t, srv)

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, common.ErrTransient)

	_, err = c.SignUpload(context.Background(), "a1", "image/png")
	assert.ErrorIs(t, err, common.ErrTransient)
}

func TestSubmitOperations_PerEntryResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/devices/login" {
			_ = json.NewEncoder(w).Encode(loginResponse{AccessToken: "tok"})
			return
		}

		var req operationsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Entries, 2)

		_ = json.NewEncoder(w).Encode(operationsResponse{Results: []OperationResult{
			{ID: req.Entries[0].ID, Status: StatusApplied},
			{ID: req.Entries[1].ID, Status: StatusRejected, Reason: "missing owner"},
		}})
	}))
	defer srv.Close()

	c := newClient(t, srv)

	results, err := c.SubmitOperations(context.Background(), []OperationPayload{
		{ID: "a1:ADD"}, {ID: "a2:ADD"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusApplied, results[0].Status)
	assert.Equal(t, StatusRejected, results[1].Status)
	assert.Equal(t, "missing owner", results[1].Reason)
}
