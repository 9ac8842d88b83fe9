package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/concierge/pkg/realtime"
)

// Source is one named credential issuer of a [FailoverFetcher].
type Source struct {
	Name    string
	Fetcher realtime.CredentialFetcher
}

type guardedSource struct {
	Source
	breaker *CircuitBreaker
}

// FailoverFetcher tries its sources in order and returns the first
// credential issued. Each source sits behind its own [CircuitBreaker].
// It implements [realtime.CredentialFetcher].
type FailoverFetcher struct {
	sources []guardedSource
	log     *slog.Logger
}

var _ realtime.CredentialFetcher = (*FailoverFetcher)(nil)

// NewFailoverFetcher guards each source with a breaker built from cfg. The
// breaker name is the source name.
func NewFailoverFetcher(cfg BreakerConfig, sources ...Source) (*FailoverFetcher, error) {
	if len(sources) == 0 {
		return nil, errors.New("resilience: failover needs at least one credential source")
	}
	f := &FailoverFetcher{log: cfg.Logger}
	if f.log == nil {
		f.log = slog.Default()
	}
	for _, src := range sources {
		if src.Fetcher == nil {
			return nil, fmt.Errorf("resilience: credential source %q has no fetcher", src.Name)
		}
		bc := cfg
		bc.Name = "credentials/" + src.Name
		f.sources = append(f.sources, guardedSource{Source: src, breaker: NewCircuitBreaker(bc)})
	}
	return f, nil
}

// Fetch returns a credential from the first source that issues one. When
// every source fails the error of the last attempted source is returned, so
// [realtime.ErrAuth] and [realtime.ErrNetwork] survive for callers. When
// every breaker is open the error wraps both [realtime.ErrNetwork] and
// [ErrCircuitOpen].
func (f *FailoverFetcher) Fetch(ctx context.Context) (realtime.Credential, error) {
	var lastErr error
	for i := range f.sources {
		src := &f.sources[i]
		var cred realtime.Credential
		err := src.breaker.Do(func() error {
			var err error
			cred, err = src.Fetcher.Fetch(ctx)
			return err
		})
		switch {
		case err == nil:
			return cred, nil
		case errors.Is(err, ErrCircuitOpen):
			f.log.Debug("skipping credential source, circuit open", "source", src.Name)
			continue
		case ctx.Err() != nil:
			return realtime.Credential{}, err
		}
		lastErr = fmt.Errorf("%s: %w", src.Name, err)
		if i < len(f.sources)-1 {
			f.log.Warn("credential source failed, trying next", "source", src.Name, "err", err)
		}
	}
	if lastErr == nil {
		return realtime.Credential{}, fmt.Errorf("%w: all credential sources are cooling down: %w", realtime.ErrNetwork, ErrCircuitOpen)
	}
	return realtime.Credential{}, lastErr
}

// Check reports an error when every source's breaker is open. It serves as
// a readiness probe.
func (f *FailoverFetcher) Check(context.Context) error {
	for i := range f.sources {
		if f.sources[i].breaker.State() != StateOpen {
			return nil
		}
	}
	return ErrCircuitOpen
}

// States returns each source's breaker state by source name.
func (f *FailoverFetcher) States() map[string]State {
	out := make(map[string]State, len(f.sources))
	for _, src := range f.sources {
		out[src.Name] = src.breaker.State()
	}
	return out
}
