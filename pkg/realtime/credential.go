package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Credential is a short-lived bearer token authorising one negotiation.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// CredentialFetcher obtains a fresh [Credential] for each session start.
type CredentialFetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// CredentialFunc adapts a function to [CredentialFetcher].
type CredentialFunc func(ctx context.Context) (Credential, error)

// Fetch calls f(ctx).
func (f CredentialFunc) Fetch(ctx context.Context) (Credential, error) { return f(ctx) }

// StaticCredential returns a fetcher that always yields value. Useful with a
// long-lived API key on trusted hosts.
func StaticCredential(value string) CredentialFetcher {
	return CredentialFunc(func(context.Context) (Credential, error) {
		return Credential{Value: value}, nil
	})
}

// HTTPCredentialFetcher POSTs to a token-issuing endpoint and reads the
// nested client secret from the JSON response:
//
//	{"client_secret":{"value":"ek_...","expires_at":1735689600}}
type HTTPCredentialFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPCredentialFetcher creates a fetcher for url. A nil client selects
// [http.DefaultClient].
func NewHTTPCredentialFetcher(url string, client *http.Client) *HTTPCredentialFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCredentialFetcher{url: url, client: client}
}

type credentialResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Fetch performs a single POST with no body. It does not retry.
func (f *HTTPCredentialFetcher) Fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: build credential request: %v", ErrNetwork, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: credential request: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := statusError("credential", resp, ErrNetwork); err != nil {
		return Credential{}, err
	}

	var body credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, fmt.Errorf("%w: decode credential: %v", ErrNetwork, err)
	}
	if body.ClientSecret.Value == "" {
		return Credential{}, fmt.Errorf("%w: credential response has no client_secret.value", ErrAuth)
	}

	cred := Credential{Value: body.ClientSecret.Value}
	if body.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(body.ClientSecret.ExpiresAt, 0)
	}
	return cred, nil
}

// statusError maps a non-2xx response onto ErrAuth for 401/403 and onto
// fallback otherwise. The response body is included (truncated).
func statusError(what string, resp *http.Response, fallback error) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	sentinel := fallback
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		sentinel = ErrAuth
	}
	return fmt.Errorf("%w: %s: status %d: %s", sentinel, what, resp.StatusCode, body)
}
