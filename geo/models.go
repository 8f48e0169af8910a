package geo

import "strings"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64
	Lng float64
}

// Kind selects which place types autocomplete suggests.
type Kind string

const (
	KindCities         Kind = "cities"
	KindMunicipalities Kind = "municipalities"
)

// ParseKind maps a query value to a Kind, defaulting to municipalities.
func ParseKind(v string) Kind {
	if strings.EqualFold(strings.TrimSpace(v), string(KindCities)) {
		return KindCities
	}
	return KindMunicipalities
}

func (k Kind) types() string {
	if k == KindCities {
		return "(cities)"
	}
	return "locality|sublocality|administrative_area_level_3"
}

// Prediction is one autocomplete suggestion.
type Prediction struct {
	Description string
	PlaceID     string
	Terms       []string
	Types       []string
}

// Name is the short display name: the first term when present, otherwise
// the description up to its first comma.
func (p Prediction) Name() string {
	if len(p.Terms) > 0 && strings.TrimSpace(p.Terms[0]) != "" {
		return strings.TrimSpace(p.Terms[0])
	}
	name, _, _ := strings.Cut(p.Description, ",")
	return strings.TrimSpace(name)
}

// Input carries what a caller knows about a location.
type Input struct {
	Municipality        string
	Sector              string
	MunicipalityPlaceID string
	SectorPlaceID       string
}
