package property

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const selectColumns = `id, title, type, address, city, district, price, currency, bedrooms,
	bathrooms, area_sqm, lat, lng, features, description, listed_at`

// PostgresStore is the PostgreSQL-backed [Store]. All operations are safe
// for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and applies the
// embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies every pending goose migration embedded in the binary. It
// is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Upsert inserts props, replacing listings with the same id.
func (s *PostgresStore) Upsert(ctx context.Context, props ...Property) error {
	const q = `
		INSERT INTO properties (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title, type = EXCLUDED.type, address = EXCLUDED.address,
		    city = EXCLUDED.city, district = EXCLUDED.district, price = EXCLUDED.price,
		    currency = EXCLUDED.currency, bedrooms = EXCLUDED.bedrooms,
		    bathrooms = EXCLUDED.bathrooms, area_sqm = EXCLUDED.area_sqm,
		    lat = EXCLUDED.lat, lng = EXCLUDED.lng, features = EXCLUDED.features,
		    description = EXCLUDED.description, listed_at = EXCLUDED.listed_at`

	batch := &pgx.Batch{}
	for _, p := range props {
		features := p.Features
		if features == nil {
			features = []string{}
		}
		batch.Queue(q, p.ID, p.Title, p.Type, p.Address, p.City, p.District, p.Price,
			p.Currency, p.Bedrooms, p.Bathrooms, p.AreaSqm, p.Lat, p.Lng, features,
			p.Description, p.ListedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: upsert: %w", err)
	}
	return nil
}

// Search implements [Store].
func (s *PostgresStore) Search(ctx context.Context, q Query) ([]Property, error) {
	props, err := s.query(ctx, q, q.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return props, nil
}

// Count implements [Store].
func (s *PostgresStore) Count(ctx context.Context, q Query) (int, error) {
	if q.Near != nil && q.RadiusKm > 0 {
		// The radius is applied in Go, so count the filtered rows.
		props, err := s.query(ctx, q, -1)
		if err != nil {
			return 0, fmt.Errorf("postgres store: count: %w", err)
		}
		return len(props), nil
	}

	cond, args, ok, err := s.where(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM properties"+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

// query runs the SQL filters and then the radius filter. A negative limit
// returns every match.
func (s *PostgresStore) query(ctx context.Context, q Query, limit int) ([]Property, error) {
	cond, args, ok, err := s.where(ctx, q)
	if err != nil || !ok {
		return nil, err
	}
	radius := q.Near != nil && q.RadiusKm > 0

	sql := "SELECT " + selectColumns + " FROM properties" + cond + " ORDER BY listed_at DESC, id"
	if limit >= 0 && !radius {
		args = append(args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	props, err := pgx.CollectRows(rows, pgx.RowToStructByName[Property])
	if err != nil {
		return nil, err
	}
	if !radius {
		return props, nil
	}

	out := props[:0]
	for _, p := range props {
		if q.withinRadius(p) {
			out = append(out, p)
		}
		if limit >= 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// where renders q as a WHERE clause. ok is false when q.City matches no
// known place, so the result is empty without querying.
func (s *PostgresStore) where(ctx context.Context, q Query) (cond string, args []any, ok bool, err error) {
	if err := q.Validate(); err != nil {
		return "", nil, false, fmt.Errorf("invalid query: %w", err)
	}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	var conds []string

	if q.City != "" {
		known, err := s.places(ctx)
		if err != nil {
			return "", nil, false, err
		}
		place, found := MatchPlace(q.City, known)
		if !found {
			return "", nil, false, nil
		}
		p := arg(place)
		conds = append(conds, fmt.Sprintf("(lower(city) = lower(%s) OR lower(district) = lower(%s))", p, p))
	}
	if q.Type != "" {
		conds = append(conds, "lower(type) = lower("+arg(q.Type)+")")
	}
	if q.MinPrice > 0 {
		conds = append(conds, "price >= "+arg(q.MinPrice))
	}
	if q.MaxPrice > 0 {
		conds = append(conds, "price <= "+arg(q.MaxPrice))
	}
	if q.MinBedrooms > 0 {
		conds = append(conds, "bedrooms >= "+arg(q.MinBedrooms))
	}
	boxes := []*BBox{q.BBox}
	if q.Near != nil && q.RadiusKm > 0 {
		around := Around(*q.Near, q.RadiusKm)
		boxes = append(boxes, &around)
	}
	for _, b := range boxes {
		if b == nil {
			continue
		}
		conds = append(conds, fmt.Sprintf("lat BETWEEN %s AND %s AND lng BETWEEN %s AND %s",
			arg(b.MinLat), arg(b.MaxLat), arg(b.MinLng), arg(b.MaxLng)))
	}

	if len(conds) > 0 {
		cond = " WHERE " + strings.Join(conds, " AND ")
	}
	return cond, args, true, nil
}

func (s *PostgresStore) places(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT city FROM properties
		UNION
		SELECT district FROM properties WHERE district <> ''`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (Property, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+selectColumns+" FROM properties WHERE id = $1", id)
	if err != nil {
		return Property{}, fmt.Errorf("postgres store: get: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Property])
	if errors.Is(err, pgx.ErrNoRows) {
		return Property{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return Property{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return p, nil
}

// Sample implements [Store].
func (s *PostgresStore) Sample(ctx context.Context, n int) ([]Property, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT "+selectColumns+" FROM properties ORDER BY listed_at DESC, id LIMIT $1", n)
	if err != nil {
		return nil, fmt.Errorf("postgres store: sample: %w", err)
	}
	props, err := pgx.CollectRows(rows, pgx.RowToStructByName[Property])
	if err != nil {
		return nil, fmt.Errorf("postgres store: sample: %w", err)
	}
	return props, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
