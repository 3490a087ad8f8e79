// Package fallback calls an optional third-party verification API to
// decide classify.Input.Fallback for addresses RCPT TO probing could not
// settle (TCP:25 blocked, a probe timeout, or a temp_fail/unknown RCPT
// result); a no-MX domain never consults it. It is
// grounded on the teacher's EmailVerificationProvider/EmailVerifier
// (internal/worker/email_verifier.go): a narrow Verify(ctx, email)
// interface in front of a single HTTP call, with the local signal
// (there, MX; here, classify's ordered rules) always tried first and
// the third-party API used only to break a tie it cannot resolve on
// its own.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/leadprobe/internal/classify"
	"github.com/ignite/leadprobe/internal/pkg/httpretry"
)

// Provider resolves classify.FallbackStatus for one address via
// whatever non-SMTP signal it has available.
type Provider interface {
	Verify(ctx context.Context, email string) (classify.FallbackStatus, error)
}

// HTTPProvider calls a third-party verification endpoint that accepts
// ?email= and an API key header and returns a JSON body naming its own
// verdict string, mapped onto classify's three-value FallbackStatus.
type HTTPProvider struct {
	url    string
	apiKey string
	client httpretry.HTTPDoer
}

// NewHTTPProvider builds an HTTPProvider. maxRetries follows the same
// httpretry convention internal/fetch uses for its own outbound calls.
func NewHTTPProvider(url, apiKey string, maxRetries int) *HTTPProvider {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	return &HTTPProvider{
		url:    url,
		apiKey: apiKey,
		client: httpretry.NewRetryClient(httpClient, maxRetries),
	}
}

type verifyResponse struct {
	Status string `json:"status"`
}

// Verify calls the configured endpoint for email and maps its response
// status onto a classify.FallbackStatus. A request, status or decode
// failure returns FallbackUnknown together with an error; the verify
// stage logs that error and carries on, leaving the address at
// unknown_timeout the way it would with no provider configured at all.
func (p *HTTPProvider) Verify(ctx context.Context, email string) (classify.FallbackStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"?email="+email, nil)
	if err != nil {
		return classify.FallbackUnknown, fmt.Errorf("fallback: build request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return classify.FallbackUnknown, fmt.Errorf("fallback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classify.FallbackUnknown, fmt.Errorf("fallback: status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return classify.FallbackUnknown, fmt.Errorf("fallback: decode response: %w", err)
	}

	switch strings.ToLower(body.Status) {
	case "deliverable", "valid":
		return classify.FallbackDeliverable, nil
	case "undeliverable", "invalid":
		return classify.FallbackUndeliverable, nil
	default:
		return classify.FallbackUnknown, nil
	}
}
