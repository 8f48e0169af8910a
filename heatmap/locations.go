package heatmap

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"coordhub/coordinator"
	"coordhub/geo"
)

type SectorLocation struct {
	Sector       string
	Municipality string
	Position     geo.LatLng
}

// Locations lists the values offered by the map's location filters.
type Locations struct {
	Municipalities []string
	Sectors        []SectorLocation
}

// CollectLocations returns the sorted distinct municipalities and the sectors
// that have coordinates. The first coordinator seen fixes a sector's position.
func CollectLocations(coords []coordinator.Coordinator) Locations {
	municipalities := map[string]struct{}{}
	sectors := map[string]SectorLocation{}

	for _, c := range coords {
		municipality := strings.TrimSpace(c.Municipality)
		if municipality != "" {
			municipalities[municipality] = struct{}{}
		}
		sector := strings.TrimSpace(c.Sector)
		if sector == "" || !c.HasCoordinates() {
			continue
		}
		key := sector + "|" + municipality
		if _, ok := sectors[key]; ok {
			continue
		}
		sectors[key] = SectorLocation{
			Sector:       sector,
			Municipality: municipality,
			Position:     geo.LatLng{Lat: *c.Latitude, Lng: *c.Longitude},
		}
	}

	out := Locations{
		Municipalities: make([]string, 0, len(municipalities)),
		Sectors:        make([]SectorLocation, 0, len(sectors)),
	}
	for m := range municipalities {
		out.Municipalities = append(out.Municipalities, m)
	}
	for _, s := range sectors {
		out.Sectors = append(out.Sectors, s)
	}

	col := collate.New(language.Spanish)
	sort.Slice(out.Municipalities, func(i, j int) bool {
		return col.CompareString(out.Municipalities[i], out.Municipalities[j]) < 0
	})
	sort.Slice(out.Sectors, func(i, j int) bool {
		a := out.Sectors[i].Municipality + " - " + out.Sectors[i].Sector
		b := out.Sectors[j].Municipality + " - " + out.Sectors[j].Sector
		return col.CompareString(a, b) < 0
	})
	return out
}
