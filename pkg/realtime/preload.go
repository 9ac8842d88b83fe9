package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// PropertyContext is the inventory summary injected as a system message
// when a session opens.
type PropertyContext struct {
	Count      int               `json:"count"`
	Properties []json.RawMessage `json:"properties"`
}

// ContextLoader fetches the [PropertyContext]. Failures are non-fatal: the
// session proceeds without the extra message.
type ContextLoader interface {
	Load(ctx context.Context) (PropertyContext, error)
}

// ContextFunc adapts a function to [ContextLoader].
type ContextFunc func(ctx context.Context) (PropertyContext, error)

// Load calls f(ctx).
func (f ContextFunc) Load(ctx context.Context) (PropertyContext, error) { return f(ctx) }

// HTTPContextLoader GETs the context from a JSON endpoint.
type HTTPContextLoader struct {
	url    string
	client *http.Client
}

// NewHTTPContextLoader creates a loader for url. A nil client selects
// [http.DefaultClient].
func NewHTTPContextLoader(url string, client *http.Client) *HTTPContextLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPContextLoader{url: url, client: client}
}

// Load performs one GET.
func (l *HTTPContextLoader) Load(ctx context.Context) (PropertyContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return PropertyContext{}, fmt.Errorf("%w: build context request: %v", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return PropertyContext{}, fmt.Errorf("%w: context request: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := statusError("context", resp, ErrNetwork); err != nil {
		return PropertyContext{}, err
	}
	var pc PropertyContext
	if err := json.NewDecoder(resp.Body).Decode(&pc); err != nil {
		return PropertyContext{}, fmt.Errorf("%w: decode context: %v", ErrNetwork, err)
	}
	return pc, nil
}

// contextMessage renders pc as the text of the priming system message.
func contextMessage(pc PropertyContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Property inventory context: %d properties are currently listed.", pc.Count)
	if len(pc.Properties) > 0 {
		sample, err := json.Marshal(pc.Properties)
		if err == nil {
			fmt.Fprintf(&b, " Sample listings (JSON): %s", sample)
		}
	}
	b.WriteString(" Use the property tools for anything not covered here.")
	return b.String()
}

// languageMessage renders the language-preference priming message.
func languageMessage(language string) string {
	return fmt.Sprintf("Always respond in %s unless the user explicitly asks for another language.", language)
}
