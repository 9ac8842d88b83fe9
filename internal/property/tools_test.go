package property_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/concierge/internal/property"
	"github.com/MrWong99/concierge/internal/property/mock"
	"github.com/MrWong99/concierge/pkg/realtime"
)

type recorded struct {
	op  string
	err error
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *fakeRecorder) RecordPropertyQuery(_ context.Context, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recorded{op, err})
}

func toolsByName(t *testing.T, store property.Store, rec property.QueryRecorder) map[string]realtime.Tool {
	t.Helper()
	out := make(map[string]realtime.Tool)
	for _, tool := range property.Tools(store, rec) {
		out[tool.Name] = tool
	}
	return out
}

// call runs a tool and decodes its JSON result into v.
func call(t *testing.T, tool realtime.Tool, args string, v any) error {
	t.Helper()
	res, err := tool.Func(context.Background(), json.RawMessage(args))
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("unmarshal result %s: %v", b, err)
	}
	return nil
}

func TestTools_Definitions(t *testing.T) {
	t.Parallel()

	reg := realtime.NewRegistry()
	for _, tool := range property.Tools(seeded(t), nil) {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register(%s): %v", tool.Name, err)
		}
		if tool.Description == "" || tool.Parameters["type"] != "object" {
			t.Errorf("tool %s has incomplete definition", tool.Name)
		}
	}
	for _, name := range []string{property.ToolSearch, property.ToolDetails, property.ToolCount} {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestTools_Search(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	tools := toolsByName(t, seeded(t), rec)

	var res struct {
		Total   int                `json:"total"`
		Results []property.Summary `json:"results"`
	}
	if err := call(t, tools[property.ToolSearch], `{"city":"lisboa","limit":2}`, &res); err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 3 || len(res.Results) != 2 {
		t.Fatalf("total %d, %d results; want 3, 2", res.Total, len(res.Results))
	}
	if r := res.Results[0]; r.ID != "lis-003" || r.City != "Lisbon" || r.Price != 265000 {
		t.Errorf("first result = %+v", r)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 2 || rec.calls[0].op != "search" || rec.calls[1].op != "count" {
		t.Errorf("recorded %+v", rec.calls)
	}
}

func TestTools_SearchNear(t *testing.T) {
	t.Parallel()

	tools := toolsByName(t, seeded(t), nil)
	var res struct {
		Total int `json:"total"`
	}
	args := `{"near":{"lat":38.7107,"lng":-9.1376},"radius_km":2}`
	if err := call(t, tools[property.ToolSearch], args, &res); err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 3 {
		t.Errorf("total = %d, want 3", res.Total)
	}
}

func TestTools_SearchInvalid(t *testing.T) {
	t.Parallel()

	tools := toolsByName(t, seeded(t), nil)
	tests := []struct {
		name string
		args string
	}{
		{"inverted prices", `{"min_price":500,"max_price":100}`},
		{"radius without center", `{"radius_km":4}`},
		{"not json", `city=lisbon`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var res map[string]any
			if err := call(t, tools[property.ToolSearch], tc.args, &res); err == nil {
				t.Errorf("expected error, got %v", res)
			}
		})
	}
}

func TestTools_Details(t *testing.T) {
	t.Parallel()

	tools := toolsByName(t, seeded(t), nil)
	var p property.Property
	if err := call(t, tools[property.ToolDetails], `{"id":"sin-001"}`, &p); err != nil {
		t.Fatalf("details: %v", err)
	}
	if p.City != "Sintra" || p.Bedrooms != 5 || len(p.Features) == 0 {
		t.Errorf("details = %+v", p)
	}

	err := call(t, tools[property.ToolDetails], `{"id":"zzz"}`, &p)
	if err == nil || !strings.Contains(err.Error(), `no property with id "zzz"`) {
		t.Errorf("unknown id error = %v", err)
	}
	if err := call(t, tools[property.ToolDetails], `{}`, &p); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestTools_Count(t *testing.T) {
	t.Parallel()

	tools := toolsByName(t, seeded(t), nil)
	var res struct {
		Count int `json:"count"`
	}
	if err := call(t, tools[property.ToolCount], `{"type":"house"}`, &res); err != nil {
		t.Fatalf("count: %v", err)
	}
	if res.Count != 3 {
		t.Errorf("count = %d, want 3", res.Count)
	}
}

func TestTools_StoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	rec := &fakeRecorder{}
	tools := toolsByName(t, &mock.Store{CountErr: boom}, rec)

	var res map[string]any
	if err := call(t, tools[property.ToolCount], `{}`, &res); !errors.Is(err, boom) {
		t.Errorf("count error = %v, want %v", err, boom)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 1 || !errors.Is(rec.calls[0].err, boom) {
		t.Errorf("recorded %+v", rec.calls)
	}
}

func TestContextLoader(t *testing.T) {
	t.Parallel()

	pc, err := property.ContextLoader(seeded(t), 3).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pc.Count != 8 || len(pc.Properties) != 3 {
		t.Fatalf("count %d, %d properties; want 8, 3", pc.Count, len(pc.Properties))
	}
	var first property.Summary
	if err := json.Unmarshal(pc.Properties[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.ID != "cas-002" || first.City != "Cascais" {
		t.Errorf("first = %+v", first)
	}
}

func TestContextLoader_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	for _, store := range []*mock.Store{{CountErr: boom}, {SampleErr: boom}} {
		if _, err := property.ContextLoader(store, 5).Load(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Load error = %v, want %v", err, boom)
		}
	}
}
