package property

import "strings"

// matches reports whether p satisfies q. place is q.City already resolved
// by [MatchPlace]; it is compared against both city and district.
func (q Query) matches(p Property, place string) bool {
	if place != "" && !strings.EqualFold(p.City, place) && !strings.EqualFold(p.District, place) {
		return false
	}
	if q.Type != "" && !strings.EqualFold(p.Type, q.Type) {
		return false
	}
	if q.MinPrice > 0 && p.Price < q.MinPrice {
		return false
	}
	if q.MaxPrice > 0 && p.Price > q.MaxPrice {
		return false
	}
	if q.MinBedrooms > 0 && p.Bedrooms < q.MinBedrooms {
		return false
	}
	if q.BBox != nil && !q.BBox.Contains(p.Location()) {
		return false
	}
	return q.withinRadius(p)
}

// withinRadius applies the haversine filter. Both backends run it in Go
// after their coarser filters.
func (q Query) withinRadius(p Property) bool {
	if q.Near == nil || q.RadiusKm <= 0 {
		return true
	}
	return HaversineKm(*q.Near, p.Location()) <= q.RadiusKm
}

// places lists the distinct city and district names of props.
func places(props []Property) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range props {
		for _, name := range []string{p.City, p.District} {
			key := strings.ToLower(name)
			if name == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
