package fallback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadprobe/internal/classify"
)

func TestHTTPProvider_Verify_MapsKnownStatuses(t *testing.T) {
	cases := map[string]classify.FallbackStatus{
		"deliverable":   classify.FallbackDeliverable,
		"valid":         classify.FallbackDeliverable,
		"undeliverable": classify.FallbackUndeliverable,
		"invalid":       classify.FallbackUndeliverable,
		"risky":         classify.FallbackUnknown,
	}

	for respStatus, want := range cases {
		respStatus := respStatus
		want := want
		t.Run(respStatus, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				assert.Equal(t, "addr@example.com", r.URL.Query().Get("email"))
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"` + respStatus + `"}`))
			}))
			defer srv.Close()

			p := NewHTTPProvider(srv.URL, "test-key", 0)
			got, err := p.Verify(context.Background(), "addr@example.com")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestHTTPProvider_Verify_NonOKStatusReturnsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 0)
	got, err := p.Verify(context.Background(), "addr@example.com")
	require.Error(t, err)
	assert.Equal(t, classify.FallbackUnknown, got)
}

func TestHTTPProvider_Verify_MalformedBodyReturnsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 0)
	got, err := p.Verify(context.Background(), "addr@example.com")
	require.Error(t, err)
	assert.Equal(t, classify.FallbackUnknown, got)
}
