// Package credential mints ephemeral realtime client secrets with the
// server-side OpenAI API key, so that the long-lived key never leaves the
// host. A [Minter] is both a [realtime.CredentialFetcher] for in-process
// sessions and an [http.Handler] for remote clients.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// sessionsPath is the REST path, relative to the API base URL, that issues
// ephemeral realtime sessions.
const sessionsPath = "realtime/sessions"

// SessionConfig is the session shape the minted secret is bound to.
type SessionConfig struct {
	Model              string
	Voice              string
	Instructions       string
	TranscriptionModel string
	Language           string
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Model == "" {
		c.Model = realtime.DefaultModel
	}
	if c.Voice == "" {
		c.Voice = realtime.DefaultVoice
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = realtime.DefaultTranscriptionModel
	}
	return c
}

type sessionRequest struct {
	Model                   string         `json:"model"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Modalities              []string       `json:"modalities"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
}

type transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// clientSecret is the nested secret object, identical on the upstream
// response and on the handler's own response.
type clientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

type sessionResponse struct {
	ID           string       `json:"id"`
	ClientSecret clientSecret `json:"client_secret"`
}

// Minter issues ephemeral client secrets. Safe for concurrent use.
type Minter struct {
	client oai.Client
	log    *slog.Logger

	mu      sync.RWMutex
	session SessionConfig
}

var _ realtime.CredentialFetcher = (*Minter)(nil)

type config struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	log        *slog.Logger
}

// Option configures a [Minter].
type Option func(*config)

// WithBaseURL overrides the OpenAI REST base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithMaxRetries sets how often a failed upstream call is retried. Default: 2.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// New returns a Minter authenticating with apiKey.
func New(apiKey string, session SessionConfig, opts ...Option) (*Minter, error) {
	if apiKey == "" {
		return nil, errors.New("credential: api key must not be empty")
	}
	cfg := &config{maxRetries: 2, log: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	return &Minter{
		client:  oai.NewClient(reqOpts...),
		log:     cfg.log,
		session: session.withDefaults(),
	}, nil
}

// SetSession replaces the session shape used for subsequent mints.
func (m *Minter) SetSession(s SessionConfig) {
	m.mu.Lock()
	m.session = s.withDefaults()
	m.mu.Unlock()
}

// Session returns the current session shape.
func (m *Minter) Session() SessionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Fetch implements [realtime.CredentialFetcher] by minting directly.
func (m *Minter) Fetch(ctx context.Context) (realtime.Credential, error) {
	secret, err := m.mint(ctx)
	if err != nil {
		return realtime.Credential{}, err
	}
	cred := realtime.Credential{Value: secret.Value}
	if secret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(secret.ExpiresAt, 0)
	}
	return cred, nil
}

// mint calls the upstream API once. Errors wrap [realtime.ErrAuth] when the
// API key is rejected and [realtime.ErrNetwork] otherwise.
func (m *Minter) mint(ctx context.Context) (_ clientSecret, err error) {
	s := m.Session()
	ctx, span := observe.StartSpan(ctx, "credential.mint", trace.WithAttributes(attribute.String("realtime.model", s.Model)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mint failed")
		}
		span.End()
	}()
	body := sessionRequest{
		Model:        s.Model,
		Voice:        s.Voice,
		Instructions: s.Instructions,
		Modalities:   []string{"audio", "text"},
		InputAudioTranscription: &transcription{
			Model:    s.TranscriptionModel,
			Language: s.Language,
		},
	}

	var res sessionResponse
	if err := m.client.Post(ctx, sessionsPath, body, &res); err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return clientSecret{}, fmt.Errorf("%w: mint client secret: %w", realtime.ErrAuth, err)
		}
		return clientSecret{}, fmt.Errorf("%w: mint client secret: %w", realtime.ErrNetwork, err)
	}
	if res.ClientSecret.Value == "" {
		return clientSecret{}, fmt.Errorf("%w: upstream session has no client_secret.value", realtime.ErrAuth)
	}
	m.log.Debug("credential minted", "session_id", res.ID, "model", s.Model,
		"expires_at", time.Unix(res.ClientSecret.ExpiresAt, 0))
	return res.ClientSecret, nil
}
