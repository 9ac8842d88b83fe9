package realtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultRealtimeURL is the OpenAI Realtime offer/answer endpoint.
const DefaultRealtimeURL = "https://api.openai.com/v1/realtime"

// SDPExchanger sends a local session description to the remote realtime
// service and returns its answer.
type SDPExchanger interface {
	Exchange(ctx context.Context, offer string, req DialRequest) (answer string, err error)
}

// HTTPNegotiator performs the offer/answer exchange as a single HTTPS POST:
// the raw SDP offer is the body, the credential is the bearer token and the
// model and voice are query parameters. The response body is the raw answer.
type HTTPNegotiator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPNegotiator creates a negotiator for endpoint. An empty endpoint
// selects [DefaultRealtimeURL]; a nil client selects [http.DefaultClient].
func NewHTTPNegotiator(endpoint string, client *http.Client) *HTTPNegotiator {
	if endpoint == "" {
		endpoint = DefaultRealtimeURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNegotiator{endpoint: endpoint, client: client}
}

// Exchange posts offer and returns the answer SDP.
func (n *HTTPNegotiator) Exchange(ctx context.Context, offer string, dr DialRequest) (string, error) {
	u, err := url.Parse(n.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: parse endpoint: %v", ErrNegotiation, err)
	}
	q := u.Query()
	if dr.Model != "" {
		q.Set("model", dr.Model)
	}
	if dr.Voice != "" {
		q.Set("voice", dr.Voice)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("%w: build offer request: %v", ErrNegotiation, err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+dr.Credential.Value)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: offer request: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := statusError("offer", resp, ErrNegotiation); err != nil {
		return "", err
	}
	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read answer: %w", ErrNetwork, err)
	}
	if strings.TrimSpace(string(answer)) == "" {
		return "", fmt.Errorf("%w: empty answer", ErrNegotiation)
	}
	return string(answer), nil
}
