// Package heatmap aggregates coordinators into weighted map markers.
package heatmap

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"coordhub/coordinator"
	"coordhub/geo"
)

// Unlocated is the key for coordinators without a municipality. It is counted
// but never placed on the map.
const Unlocated = "Sin ubicación"

const (
	ColorHigh   = "#ef4444"
	ColorMedium = "#f59e0b"
	ColorLow    = "#3b82f6"
)

type GroupBy string

const (
	GroupByMunicipality GroupBy = "municipality"
	GroupBySector       GroupBy = "sector"
)

// ParseGroupBy maps a query value to a GroupBy, defaulting to municipality.
func ParseGroupBy(v string) GroupBy {
	if strings.EqualFold(strings.TrimSpace(v), string(GroupBySector)) {
		return GroupBySector
	}
	return GroupByMunicipality
}

type Options struct {
	GroupBy      GroupBy
	Municipality string
	Sector       string
	EventID      *int64
}

type Marker struct {
	Key          string
	Count        int
	Position     *geo.LatLng
	Normalized   float64
	RadiusMeters float64
	Opacity      float64
	Color        string
	DiameterPx   int
}

// Geocoder resolves free-text addresses.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.LatLng, error)
}

type Builder struct {
	geocoder    Geocoder
	concurrency int
	logger      *slog.Logger
}

// NewBuilder creates a Builder. A nil geocoder places only groups whose
// members carry coordinates.
func NewBuilder(geocoder Geocoder, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Builder{geocoder: geocoder, concurrency: concurrency, logger: slog.Default()}
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

type group struct {
	key     string
	count   int
	sumLat  float64
	sumLng  float64
	located int
}

// Build filters coordinators, groups them and returns styled markers sorted
// by descending count. Groups that cannot be positioned keep a nil Position.
func (b *Builder) Build(ctx context.Context, coords []coordinator.Coordinator, opts Options) ([]Marker, error) {
	selected := Filter(coords, opts)

	groups := map[string]*group{}
	var order []string
	for _, c := range selected {
		key := groupKey(c, opts.GroupBy)
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
		if c.HasCoordinates() {
			g.sumLat += *c.Latitude
			g.sumLng += *c.Longitude
			g.located++
		}
	}

	markers := make([]Marker, len(order))
	maxCount := 0
	for _, g := range groups {
		maxCount = max(maxCount, g.count)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)
	for i, key := range order {
		g := groups[key]
		markers[i] = style(g.key, g.count, maxCount)
		switch {
		case g.key == Unlocated:
		case g.located > 0:
			markers[i].Position = &geo.LatLng{
				Lat: g.sumLat / float64(g.located),
				Lng: g.sumLng / float64(g.located),
			}
		case b.geocoder != nil:
			eg.Go(func() error {
				pos, err := b.geocoder.Geocode(gctx, g.key+", Colombia")
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					b.logger.Debug("heatmap geocode skipped", "key", g.key, "err", err)
					return nil
				}
				markers[i].Position = &pos
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("heatmap: build: %w", err)
	}

	col := collate.New(language.Spanish)
	sort.SliceStable(markers, func(i, j int) bool {
		if markers[i].Count != markers[j].Count {
			return markers[i].Count > markers[j].Count
		}
		return col.CompareString(markers[i].Key, markers[j].Key) < 0
	})
	return markers, nil
}

// Filter applies the event and location filters of opts.
func Filter(coords []coordinator.Coordinator, opts Options) []coordinator.Coordinator {
	municipality := strings.TrimSpace(opts.Municipality)
	sector := strings.TrimSpace(opts.Sector)

	out := make([]coordinator.Coordinator, 0, len(coords))
	for _, c := range coords {
		if opts.EventID != nil && !calledFor(c, *opts.EventID) {
			continue
		}
		if sector != "" {
			if strings.TrimSpace(c.Sector) != sector {
				continue
			}
			if municipality != "" && strings.TrimSpace(c.Municipality) != municipality {
				continue
			}
		} else if municipality != "" && strings.TrimSpace(c.Municipality) != municipality {
			continue
		}
		out = append(out, c)
	}
	return out
}

func calledFor(c coordinator.Coordinator, eventID int64) bool {
	for _, call := range c.Calls {
		if call.EventID != nil && *call.EventID == eventID {
			return true
		}
	}
	return false
}

func groupKey(c coordinator.Coordinator, by GroupBy) string {
	municipality := strings.TrimSpace(c.Municipality)
	sector := strings.TrimSpace(c.Sector)
	if by == GroupBySector && sector != "" {
		return sector + ", " + municipality
	}
	if municipality == "" {
		return Unlocated
	}
	return municipality
}

func style(key string, count, maxCount int) Marker {
	normalized := 0.0
	if maxCount > 0 {
		normalized = float64(count) / float64(maxCount)
	}

	color := ColorLow
	switch {
	case normalized > 0.7:
		color = ColorHigh
	case normalized > 0.4:
		color = ColorMedium
	}

	return Marker{
		Key:          key,
		Count:        count,
		Normalized:   normalized,
		RadiusMeters: clamp(float64(count)*3000, 5000, 50000),
		Opacity:      clamp(normalized, 0.2, 0.6),
		Color:        color,
		DiameterPx:   int(math.Round(clamp(20+normalized*30, 20, 50))),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
