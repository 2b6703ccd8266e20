package model

// Tags is the free-form source tag bag attached to a venue by the geospatial
// source. Keys the pipeline relies on get typed accessors; everything else is
// reachable by raw lookup.
type Tags map[string]string

// Well-known OSM keys used by the pre-vetting heuristic.
const (
	TagAmenity  = "amenity"
	TagHistoric = "historic"
	TagBuilding = "building"
	TagTourism  = "tourism"
	TagWebsite  = "website"
	TagName     = "name"
)

// Get returns the value for key, or "" when absent.
func (t Tags) Get(key string) string {
	if t == nil {
		return ""
	}
	return t[key]
}

// Amenity returns the amenity tag value.
func (t Tags) Amenity() string { return t.Get(TagAmenity) }

// Historic returns the historic tag value.
func (t Tags) Historic() string { return t.Get(TagHistoric) }

// Building returns the building tag value.
func (t Tags) Building() string { return t.Get(TagBuilding) }

// Website returns the website tag value.
func (t Tags) Website() string { return t.Get(TagWebsite) }

// Name returns the name tag value.
func (t Tags) Name() string { return t.Get(TagName) }

// Merge overlays other onto t, returning the merged bag. Values from other
// win on key conflict; t is not mutated.
func (t Tags) Merge(other Tags) Tags {
	if len(other) == 0 {
		return t
	}
	merged := make(Tags, len(t)+len(other))
	for k, v := range t {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
