package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Places is the subset of Client the resolver needs.
type Places interface {
	PlaceCoordinates(ctx context.Context, placeID string) (*LatLng, error)
	Geocode(ctx context.Context, address string) (LatLng, error)
}

// Resolver finds coordinates for a municipality/sector pair, preferring the
// most specific information available.
type Resolver struct {
	places Places
}

func NewResolver(places Places) *Resolver {
	return &Resolver{places: places}
}

// Resolve tries, in order: the sector place id, the sector address, the
// municipality place id and the municipality address. It returns nil
// coordinates when every step comes back empty; the error is non-nil only
// when no step succeeded and at least one failed.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*LatLng, error) {
	municipality := strings.TrimSpace(in.Municipality)
	sector := strings.TrimSpace(in.Sector)

	var errs []error
	steps := []func() (*LatLng, error){
		func() (*LatLng, error) { return r.byPlace(ctx, in.SectorPlaceID) },
		func() (*LatLng, error) {
			if sector == "" || municipality == "" {
				return nil, nil
			}
			return r.byAddress(ctx, fmt.Sprintf("%s, %s, Colombia", sector, municipality))
		},
		func() (*LatLng, error) { return r.byPlace(ctx, in.MunicipalityPlaceID) },
		func() (*LatLng, error) {
			if municipality == "" {
				return nil, nil
			}
			return r.byAddress(ctx, fmt.Sprintf("%s, Colombia", municipality))
		},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loc, err := step()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if loc != nil {
			return loc, nil
		}
	}

	return nil, errors.Join(errs...)
}

func (r *Resolver) byPlace(ctx context.Context, placeID string) (*LatLng, error) {
	if strings.TrimSpace(placeID) == "" {
		return nil, nil
	}
	return r.places.PlaceCoordinates(ctx, placeID)
}

func (r *Resolver) byAddress(ctx context.Context, address string) (*LatLng, error) {
	loc, err := r.places.Geocode(ctx, address)
	if err != nil {
		if errors.Is(err, ErrNoResults) {
			return nil, nil
		}
		return nil, err
	}
	return &loc, nil
}
