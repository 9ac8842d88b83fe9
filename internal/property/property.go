// Package property holds the listing inventory the concierge talks about:
// the [Store] interface with in-memory and PostgreSQL backends, the search
// filters, and the tools and context loader that expose the inventory to a
// realtime session.
package property

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by [Store.Get] for an unknown id.
var ErrNotFound = errors.New("property: not found")

const (
	// DefaultLimit is the page size when a query does not set one.
	DefaultLimit = 10

	// MaxLimit caps the page size of a single query.
	MaxLimit = 50
)

// Property is one listing.
type Property struct {
	ID          string    `json:"id" yaml:"id" db:"id"`
	Title       string    `json:"title" yaml:"title" db:"title"`
	Type        string    `json:"type" yaml:"type" db:"type"`
	Address     string    `json:"address" yaml:"address" db:"address"`
	City        string    `json:"city" yaml:"city" db:"city"`
	District    string    `json:"district,omitempty" yaml:"district" db:"district"`
	Price       int64     `json:"price" yaml:"price" db:"price"`
	Currency    string    `json:"currency" yaml:"currency" db:"currency"`
	Bedrooms    int       `json:"bedrooms" yaml:"bedrooms" db:"bedrooms"`
	Bathrooms   int       `json:"bathrooms" yaml:"bathrooms" db:"bathrooms"`
	AreaSqm     float64   `json:"area_sqm" yaml:"area_sqm" db:"area_sqm"`
	Lat         float64   `json:"lat" yaml:"lat" db:"lat"`
	Lng         float64   `json:"lng" yaml:"lng" db:"lng"`
	Features    []string  `json:"features,omitempty" yaml:"features" db:"features"`
	Description string    `json:"description,omitempty" yaml:"description" db:"description"`
	ListedAt    time.Time `json:"listed_at" yaml:"listed_at" db:"listed_at"`
}

// Location returns the listing's coordinates.
func (p Property) Location() GeoPoint { return GeoPoint{Lat: p.Lat, Lng: p.Lng} }

// Summary is the compact form sent to the model in search results and the
// session priming context.
type Summary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	City     string `json:"city"`
	District string `json:"district,omitempty"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
	Bedrooms int    `json:"bedrooms"`
}

// Summary returns the compact form of p.
func (p Property) Summary() Summary {
	return Summary{
		ID:       p.ID,
		Title:    p.Title,
		Type:     p.Type,
		City:     p.City,
		District: p.District,
		Price:    p.Price,
		Currency: p.Currency,
		Bedrooms: p.Bedrooms,
	}
}

// Query filters listings. Zero-valued fields do not constrain the result.
type Query struct {
	// City is matched phonetically against known city and district names,
	// so "lisboa" or a misheard "cintra" still find Lisbon and Sintra.
	City string

	// Type is an exact, case-insensitive match (apartment, house, ...).
	Type string

	MinPrice    int64
	MaxPrice    int64
	MinBedrooms int

	// BBox restricts results to a rectangle.
	BBox *BBox

	// Near and RadiusKm restrict results to a great-circle radius.
	Near     *GeoPoint
	RadiusKm float64

	// Limit caps the number of results. Zero means [DefaultLimit]; values
	// above [MaxLimit] are clamped.
	Limit int
}

// Validate reports malformed filters.
func (q Query) Validate() error {
	var errs []error
	if q.MinPrice < 0 || q.MaxPrice < 0 {
		errs = append(errs, errors.New("prices must not be negative"))
	}
	if q.MaxPrice > 0 && q.MinPrice > q.MaxPrice {
		errs = append(errs, fmt.Errorf("min_price %d exceeds max_price %d", q.MinPrice, q.MaxPrice))
	}
	if q.MinBedrooms < 0 {
		errs = append(errs, errors.New("min_bedrooms must not be negative"))
	}
	if q.RadiusKm < 0 {
		errs = append(errs, errors.New("radius_km must not be negative"))
	}
	if q.RadiusKm > 0 && q.Near == nil {
		errs = append(errs, errors.New("radius_km requires a center point"))
	}
	if q.Near != nil {
		if err := q.Near.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.BBox != nil {
		if err := q.BBox.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.Limit < 0 {
		errs = append(errs, errors.New("limit must not be negative"))
	}
	return errors.Join(errs...)
}

// EffectiveLimit applies the default and the cap.
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit == 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// Store is the property inventory. Implementations must be safe for
// concurrent use.
type Store interface {
	// Search returns listings matching q, newest first, at most
	// q.EffectiveLimit() of them.
	Search(ctx context.Context, q Query) ([]Property, error)

	// Get returns the listing with id or [ErrNotFound].
	Get(ctx context.Context, id string) (Property, error)

	// Count returns how many listings match q, ignoring its limit.
	Count(ctx context.Context, q Query) (int, error)

	// Sample returns up to n of the newest listings.
	Sample(ctx context.Context, n int) ([]Property, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
