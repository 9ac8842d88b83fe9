// Package mock provides a configurable test double for [property.Store].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/concierge/internal/property"
)

// Store is a test double for [property.Store]. Each method returns its
// configured result and records the call.
type Store struct {
	mu    sync.Mutex
	calls []string

	SearchResult []property.Property
	SearchErr    error

	GetResult property.Property
	GetErr    error

	CountResult int
	CountErr    error

	SampleResult []property.Property
	SampleErr    error

	PingErr  error
	CloseErr error
}

var _ property.Store = (*Store)(nil)

func (s *Store) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)
}

func (s *Store) Search(context.Context, property.Query) ([]property.Property, error) {
	s.record("Search")
	return s.SearchResult, s.SearchErr
}

func (s *Store) Get(context.Context, string) (property.Property, error) {
	s.record("Get")
	return s.GetResult, s.GetErr
}

func (s *Store) Count(context.Context, property.Query) (int, error) {
	s.record("Count")
	return s.CountResult, s.CountErr
}

func (s *Store) Sample(_ context.Context, n int) ([]property.Property, error) {
	s.record("Sample")
	if n < len(s.SampleResult) {
		return s.SampleResult[:n], s.SampleErr
	}
	return s.SampleResult, s.SampleErr
}

func (s *Store) Ping(context.Context) error {
	s.record("Ping")
	return s.PingErr
}

func (s *Store) Close() error {
	s.record("Close")
	return s.CloseErr
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}
