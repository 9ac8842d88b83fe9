package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/concierge/pkg/realtime"
)

// Tool names registered into the session.
const (
	ToolSearch  = "search_properties"
	ToolDetails = "get_property_details"
	ToolCount   = "count_properties"
)

// QueryRecorder receives one call per store lookup made by a tool. It is
// implemented by the host's metrics.
type QueryRecorder interface {
	RecordPropertyQuery(ctx context.Context, op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordPropertyQuery(context.Context, string, error) {}

// filterArgs is the JSON shape shared by the search and count tools.
type filterArgs struct {
	City        string    `json:"city"`
	Type        string    `json:"type"`
	MinPrice    int64     `json:"min_price"`
	MaxPrice    int64     `json:"max_price"`
	MinBedrooms int       `json:"min_bedrooms"`
	Near        *GeoPoint `json:"near"`
	RadiusKm    float64   `json:"radius_km"`
	BBox        *BBox     `json:"bbox"`
}

func (a filterArgs) query() Query {
	return Query{
		City:        a.City,
		Type:        a.Type,
		MinPrice:    a.MinPrice,
		MaxPrice:    a.MaxPrice,
		MinBedrooms: a.MinBedrooms,
		Near:        a.Near,
		RadiusKm:    a.RadiusKm,
		BBox:        a.BBox,
	}
}

type searchArgs struct {
	filterArgs
	Limit int `json:"limit"`
}

type searchResult struct {
	Total   int       `json:"total"`
	Results []Summary `json:"results"`
}

type detailsArgs struct {
	ID string `json:"id"`
}

type countResult struct {
	Count int `json:"count"`
}

// filterSchema describes filterArgs to the model.
func filterSchema() map[string]any {
	point := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"lat": map[string]any{"type": "number"},
			"lng": map[string]any{"type": "number"},
		},
		"required": []string{"lat", "lng"},
	}
	return map[string]any{
		"city":         map[string]any{"type": "string", "description": "City or neighbourhood name as the user said it."},
		"type":         map[string]any{"type": "string", "description": "Listing type, e.g. apartment, house, studio."},
		"min_price":    map[string]any{"type": "integer", "description": "Minimum asking price in EUR."},
		"max_price":    map[string]any{"type": "integer", "description": "Maximum asking price in EUR."},
		"min_bedrooms": map[string]any{"type": "integer"},
		"near":         point,
		"radius_km":    map[string]any{"type": "number", "description": "Search radius around near, in kilometres."},
		"bbox": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"min_lat": map[string]any{"type": "number"},
				"min_lng": map[string]any{"type": "number"},
				"max_lat": map[string]any{"type": "number"},
				"max_lng": map[string]any{"type": "number"},
			},
		},
	}
}

// Tools returns the property tools backed by store. rec may be nil.
func Tools(store Store, rec QueryRecorder) []realtime.Tool {
	if rec == nil {
		rec = nopRecorder{}
	}

	searchProps := filterSchema()
	searchProps["limit"] = map[string]any{"type": "integer", "description": fmt.Sprintf("At most %d.", MaxLimit)}

	return []realtime.Tool{
		realtime.NewTool(ToolSearch,
			"Search the listed properties. Returns the total number of matches and the newest matching listings.",
			map[string]any{"type": "object", "properties": searchProps},
			func(ctx context.Context, in searchArgs) (searchResult, error) {
				q := in.query()
				q.Limit = in.Limit
				props, err := store.Search(ctx, q)
				rec.RecordPropertyQuery(ctx, "search", err)
				if err != nil {
					return searchResult{}, err
				}
				total, err := store.Count(ctx, q)
				rec.RecordPropertyQuery(ctx, "count", err)
				if err != nil {
					return searchResult{}, err
				}
				res := searchResult{Total: total, Results: make([]Summary, len(props))}
				for i, p := range props {
					res.Results[i] = p.Summary()
				}
				return res, nil
			}),

		realtime.NewTool(ToolDetails,
			"Get the full details of one property by id.",
			map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": map[string]any{"type": "string"}},
				"required":   []string{"id"},
			},
			func(ctx context.Context, in detailsArgs) (Property, error) {
				if in.ID == "" {
					return Property{}, errors.New("id is required")
				}
				p, err := store.Get(ctx, in.ID)
				rec.RecordPropertyQuery(ctx, "get", err)
				if errors.Is(err, ErrNotFound) {
					return Property{}, fmt.Errorf("no property with id %q", in.ID)
				}
				return p, err
			}),

		realtime.NewTool(ToolCount,
			"Count the listed properties matching the filters.",
			map[string]any{"type": "object", "properties": filterSchema()},
			func(ctx context.Context, in filterArgs) (countResult, error) {
				n, err := store.Count(ctx, in.query())
				rec.RecordPropertyQuery(ctx, "count", err)
				return countResult{Count: n}, err
			}),
	}
}

// ContextLoader returns a [realtime.ContextLoader] that reports the total
// inventory size and the sample newest listings as summaries.
func ContextLoader(store Store, sample int) realtime.ContextLoader {
	return realtime.ContextFunc(func(ctx context.Context) (realtime.PropertyContext, error) {
		n, err := store.Count(ctx, Query{})
		if err != nil {
			return realtime.PropertyContext{}, fmt.Errorf("property: count: %w", err)
		}
		props, err := store.Sample(ctx, sample)
		if err != nil {
			return realtime.PropertyContext{}, fmt.Errorf("property: sample: %w", err)
		}
		pc := realtime.PropertyContext{Count: n, Properties: make([]json.RawMessage, 0, len(props))}
		for _, p := range props {
			b, err := json.Marshal(p.Summary())
			if err != nil {
				return realtime.PropertyContext{}, err
			}
			pc.Properties = append(pc.Properties, b)
		}
		return pc, nil
	})
}
