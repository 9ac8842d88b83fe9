package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/internal/property"
)

type searchResponse struct {
	Total   int                `json:"total"`
	Results []property.Summary `json:"results"`
}

// handleContext serves the inventory summary consumed by
// [realtime.HTTPContextLoader].
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	pc, err := property.ContextLoader(s.cfg.Store, s.cfg.ContextSample).Load(r.Context())
	s.recordQuery(r, "context", err)
	if err != nil {
		observe.Logger(r.Context(), s.log).Error("property context failed", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "property store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, pc)
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.cfg.Store.Get(r.Context(), id)
	s.recordQuery(r, "get", err)
	switch {
	case errors.Is(err, property.ErrNotFound):
		respondError(w, http.StatusNotFound, "property_not_found", "no property with id "+strconv.Quote(id))
	case err != nil:
		observe.Logger(r.Context(), s.log).Error("property lookup failed", "id", id, "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "property store unavailable")
	default:
		respondJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err == nil {
		err = q.Validate()
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	props, err := s.cfg.Store.Search(r.Context(), q)
	s.recordQuery(r, "search", err)
	if err != nil {
		observe.Logger(r.Context(), s.log).Error("property search failed", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "property store unavailable")
		return
	}
	total, err := s.cfg.Store.Count(r.Context(), q)
	s.recordQuery(r, "count", err)
	if err != nil {
		observe.Logger(r.Context(), s.log).Error("property count failed", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "property store unavailable")
		return
	}

	res := searchResponse{Total: total, Results: make([]property.Summary, len(props))}
	for i, p := range props {
		res.Results[i] = p.Summary()
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) recordQuery(r *http.Request, op string, err error) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordPropertyQuery(r.Context(), op, err)
	}
}

// parseQuery reads search filters from URL parameters. near is "lat,lng".
func parseQuery(v url.Values) (property.Query, error) {
	q := property.Query{City: v.Get("city"), Type: v.Get("type")}
	var errs []error
	intParam := func(name string) int64 {
		s := v.Get(name)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			errs = append(errs, errors.New(name+" must be an integer"))
		}
		return n
	}
	floatParam := func(name string) float64 {
		s := v.Get(name)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, errors.New(name+" must be a number"))
		}
		return f
	}

	q.MinPrice = intParam("min_price")
	q.MaxPrice = intParam("max_price")
	q.MinBedrooms = int(intParam("min_bedrooms"))
	q.Limit = int(intParam("limit"))
	q.RadiusKm = floatParam("radius_km")
	if near := v.Get("near"); near != "" {
		p, err := parsePoint(near)
		if err != nil {
			errs = append(errs, err)
		} else {
			q.Near = &p
		}
	}
	return q, errors.Join(errs...)
}

func parsePoint(s string) (property.GeoPoint, error) {
	latS, lngS, ok := strings.Cut(s, ",")
	if !ok {
		return property.GeoPoint{}, errors.New("near must be lat,lng")
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(lngS), 64)
	if err1 != nil || err2 != nil {
		return property.GeoPoint{}, errors.New("near must be lat,lng")
	}
	return property.GeoPoint{Lat: lat, Lng: lng}, nil
}
