package property_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/concierge/internal/property"
)

// newPostgresStore returns a seeded store on a clean schema, or skips the
// test if CONCIERGE_TEST_POSTGRES_DSN is not set.
func newPostgresStore(t *testing.T) *property.PostgresStore {
	t.Helper()
	dsn := os.Getenv("CONCIERGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONCIERGE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS properties CASCADE",
		"DROP TABLE IF EXISTS goose_db_version CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
	pool.Close()

	store, err := property.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	props, err := property.LoadSeed("")
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if err := store.Upsert(ctx, props...); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return store
}

// The postgres tests share one database, so they run sequentially.

func TestPostgresStore_Search(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	baixa := &property.GeoPoint{Lat: 38.7107, Lng: -9.1376}
	tests := []struct {
		name string
		q    property.Query
		want []string
	}{
		{"limit", property.Query{Limit: 2}, []string{"cas-002", "por-002"}},
		{"city spoken differently", property.Query{City: "lisboa"}, []string{"lis-003", "lis-001", "lis-002"}},
		{"district", property.Query{City: "Estoril"}, []string{"cas-002"}},
		{"unknown city", property.Query{City: "Madrid"}, nil},
		{"type and bedrooms", property.Query{Type: "house", MinBedrooms: 5}, []string{"cas-002", "sin-001"}},
		{"max price", property.Query{MaxPrice: 400000}, []string{"lis-003", "por-001"}},
		{"radius", property.Query{Near: baixa, RadiusKm: 23}, []string{"cas-002", "lis-003", "lis-001", "lis-002"}},
		{"radius with limit", property.Query{Near: baixa, RadiusKm: 23, Limit: 1}, []string{"cas-002"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.Search(ctx, tc.q)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if !slices.Equal(ids(got), tc.want) {
				t.Errorf("Search = %v, want %v", ids(got), tc.want)
			}
		})
	}
}

func TestPostgresStore_CountGetSample(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	if n, err := store.Count(ctx, property.Query{Limit: 1}); err != nil || n != 8 {
		t.Errorf("Count = %d, %v; want 8", n, err)
	}
	baixa := &property.GeoPoint{Lat: 38.7107, Lng: -9.1376}
	if n, err := store.Count(ctx, property.Query{Near: baixa, RadiusKm: 2}); err != nil || n != 3 {
		t.Errorf("Count radius = %d, %v; want 3", n, err)
	}

	p, err := store.Get(ctx, "lis-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.District != "Alfama" || !slices.Equal(p.Features, []string{"balcony", "river view", "elevator"}) {
		t.Errorf("Get = %+v", p)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, property.ErrNotFound) {
		t.Errorf("Get missing error = %v, want ErrNotFound", err)
	}

	sample, err := store.Sample(ctx, 2)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !slices.Equal(ids(sample), []string{"cas-002", "por-002"}) {
		t.Errorf("Sample = %v", ids(sample))
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPostgresStore_UpsertReplaces(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	p, _ := store.Get(ctx, "por-001")
	p.Price = 350000
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := store.Get(ctx, "por-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Price != 350000 {
		t.Errorf("Price = %d, want 350000", got.Price)
	}
	if n, _ := store.Count(ctx, property.Query{}); n != 8 {
		t.Errorf("Count after upsert = %d, want 8", n)
	}
}
