package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	// Liveness is independent of model state: a nil engine still
	// answers ok.
	srv := New(nil, &stubExtractor{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestHealthzRejectsPost(t *testing.T) {
	t.Parallel()

	srv := New(nil, &stubExtractor{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSAllowAllOrigins(t *testing.T) {
	t.Parallel()

	srv := New(nil, &stubExtractor{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	t.Parallel()

	srv := New(nil, &stubExtractor{}, nil, zap.NewNop(),
		WithAllowedOrigins([]string{"https://app.example.com"}))
	handler := srv.Handler()

	allowed := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	allowed.Header.Set("Origin", "https://app.example.com")
	allowed.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, allowed)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	denied := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	denied.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, denied)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestParseAllowedOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty means unrestricted", raw: "", want: []string{"*"}},
		{name: "wildcard", raw: "*", want: []string{"*"}},
		{name: "single origin", raw: "https://a.example.com", want: []string{"https://a.example.com"}},
		{
			name: "list with whitespace",
			raw:  " https://a.example.com , https://b.example.com ",
			want: []string{"https://a.example.com", "https://b.example.com"},
		},
		{name: "only separators", raw: " , ,", want: []string{"*"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ParseAllowedOrigins(tt.raw))
		})
	}
}
