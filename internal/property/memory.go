package property

import (
	"cmp"
	"context"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// MemoryStore keeps listings in a slice sorted newest first.
type MemoryStore struct {
	mu     sync.RWMutex
	props  []Property
	byID   map[string]int
	places []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store holding props. Duplicate ids keep the last
// occurrence.
func NewMemoryStore(props []Property) *MemoryStore {
	s := &MemoryStore{}
	s.Replace(props)
	return s
}

// LoadSeed reads a YAML list of listings from path. An empty path returns
// the built-in sample inventory.
func LoadSeed(path string) ([]Property, error) {
	data := defaultSeed
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("property: read seed: %w", err)
		}
	}
	var props []Property
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("property: decode seed: %w", err)
	}
	for i, p := range props {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("property: seed entry %d has no id", i)
		}
	}
	return props, nil
}

// Replace swaps the whole inventory.
func (s *MemoryStore) Replace(props []Property) {
	dedup := make(map[string]Property, len(props))
	for _, p := range props {
		dedup[p.ID] = p
	}
	sorted := make([]Property, 0, len(dedup))
	for _, p := range dedup {
		sorted = append(sorted, p)
	}
	slices.SortFunc(sorted, newestFirst)

	byID := make(map[string]int, len(sorted))
	for i, p := range sorted {
		byID[p.ID] = i
	}

	s.mu.Lock()
	s.props, s.byID, s.places = sorted, byID, places(sorted)
	s.mu.Unlock()
}

func newestFirst(a, b Property) int {
	if c := b.ListedAt.Compare(a.ListedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Search implements [Store].
func (s *MemoryStore) Search(ctx context.Context, q Query) ([]Property, error) {
	return s.filter(ctx, q, q.EffectiveLimit())
}

// Count implements [Store].
func (s *MemoryStore) Count(ctx context.Context, q Query) (int, error) {
	res, err := s.filter(ctx, q, -1)
	return len(res), err
}

func (s *MemoryStore) filter(ctx context.Context, q Query, limit int) ([]Property, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("property: invalid query: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var place string
	if q.City != "" {
		var ok bool
		if place, ok = MatchPlace(q.City, s.places); !ok {
			return nil, nil
		}
	}
	var out []Property
	for _, p := range s.props {
		if !q.matches(p, place) {
			continue
		}
		out = append(out, p)
		if limit >= 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Property{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s.props[i], nil
}

// Sample implements [Store].
func (s *MemoryStore) Sample(_ context.Context, n int) ([]Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n = max(0, min(n, len(s.props)))
	return slices.Clone(s.props[:n]), nil
}

// Ping implements [Store]. The memory store is always reachable.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (s *MemoryStore) Close() error { return nil }
