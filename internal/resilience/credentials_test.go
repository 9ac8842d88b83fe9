package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/concierge/pkg/realtime"
)

type countingFetcher struct {
	calls int
	cred  realtime.Credential
	err   error
}

func (f *countingFetcher) Fetch(context.Context) (realtime.Credential, error) {
	f.calls++
	return f.cred, f.err
}

func quietConfig(clock *fakeClock) BreakerConfig {
	return BreakerConfig{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         clock.Now,
	}
}

func TestNewFailoverFetcher_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewFailoverFetcher(BreakerConfig{}); err == nil {
		t.Error("expected an error without sources")
	}
	if _, err := NewFailoverFetcher(BreakerConfig{}, Source{Name: "remote"}); err == nil {
		t.Error("expected an error for a source without a fetcher")
	}
}

func TestFailoverFetcher_FallsBackAndSkipsOpenSource(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	remote := &countingFetcher{err: realtime.ErrNetwork}
	local := &countingFetcher{cred: realtime.Credential{Value: "ek_local"}}
	f, err := NewFailoverFetcher(quietConfig(clock),
		Source{Name: "remote", Fetcher: remote},
		Source{Name: "local", Fetcher: local},
	)
	if err != nil {
		t.Fatalf("NewFailoverFetcher: %v", err)
	}

	for range 2 {
		cred, err := f.Fetch(context.Background())
		if err != nil || cred.Value != "ek_local" {
			t.Fatalf("Fetch = %+v, %v", cred, err)
		}
	}
	if remote.calls != 1 || local.calls != 2 {
		t.Errorf("calls remote=%d local=%d, want 1 and 2", remote.calls, local.calls)
	}
	if got := f.States(); got["remote"] != StateOpen || got["local"] != StateClosed {
		t.Errorf("States = %v", got)
	}

	// Once the cooldown passes the remote source is probed again.
	clock.Advance(time.Minute)
	remote.err, remote.cred = nil, realtime.Credential{Value: "ek_remote"}
	cred, err := f.Fetch(context.Background())
	if err != nil || cred.Value != "ek_remote" {
		t.Errorf("Fetch after cooldown = %+v, %v", cred, err)
	}
}

func TestFailoverFetcher_Errors(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	only := &countingFetcher{err: realtime.ErrAuth}
	f, err := NewFailoverFetcher(quietConfig(clock), Source{Name: "minter", Fetcher: only})
	if err != nil {
		t.Fatalf("NewFailoverFetcher: %v", err)
	}

	if _, err := f.Fetch(context.Background()); !errors.Is(err, realtime.ErrAuth) {
		t.Errorf("first Fetch = %v, want ErrAuth", err)
	}
	if err := f.Check(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Check = %v, want ErrCircuitOpen", err)
	}

	_, err = f.Fetch(context.Background())
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, realtime.ErrNetwork) {
		t.Errorf("Fetch while open = %v, want ErrCircuitOpen and ErrNetwork", err)
	}
	if only.calls != 1 {
		t.Errorf("calls = %d, want 1", only.calls)
	}
}

func TestFailoverFetcher_CanceledContextStops(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := &countingFetcher{err: context.Canceled}
	second := &countingFetcher{cred: realtime.Credential{Value: "x"}}
	f, _ := NewFailoverFetcher(quietConfig(clock),
		Source{Name: "a", Fetcher: first},
		Source{Name: "b", Fetcher: second},
	)

	if _, err := f.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch = %v, want context.Canceled", err)
	}
	if second.calls != 0 {
		t.Error("second source called after cancellation")
	}
	if f.Check(context.Background()) != nil {
		t.Error("cancellation tripped the breaker")
	}
}
