package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://maps.googleapis.com"

var (
	// ErrNoResults signals that geocoding found nothing for the address.
	ErrNoResults = errors.New("geo: no results")
	// ErrNotConfigured signals a missing API key.
	ErrNotConfigured = errors.New("geo: api key not configured")
	// ErrProvider wraps a non-OK status reported by the provider.
	ErrProvider = errors.New("geo: provider error")
)

// Recorder observes lookup outcomes ("ok", "empty", "error") per operation.
type Recorder interface {
	ObserveLookup(op, outcome string)
}

type Config struct {
	BaseURL string
	APIKey  string
	Country string
	Timeout time.Duration
}

// Client talks to the Places and Geocoding web services.
type Client struct {
	http     *resty.Client
	apiKey   string
	country  string
	recorder Recorder
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = "co"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	r := resty.New()
	r.SetBaseURL(cfg.BaseURL)
	r.SetHeader("Accept", "application/json")
	r.SetTimeout(cfg.Timeout)

	return &Client{
		http:    r,
		apiKey:  cfg.APIKey,
		country: strings.ToLower(cfg.Country),
	}
}

func (c *Client) WithRecorder(rec Recorder) *Client {
	c.recorder = rec
	return c
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type autocompleteResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Predictions  []struct {
		Description string `json:"description"`
		PlaceID     string `json:"place_id"`
		Terms       []struct {
			Value string `json:"value"`
		} `json:"terms"`
		Types []string `json:"types"`
	} `json:"predictions"`
}

type location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type detailsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Result       struct {
		Geometry *struct {
			Location location `json:"location"`
		} `json:"geometry"`
	} `json:"result"`
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location location `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Autocomplete suggests places for input restricted to the configured
// country. Inputs shorter than two characters return no suggestions.
func (c *Client) Autocomplete(ctx context.Context, input string, kind Kind) ([]Prediction, error) {
	input = strings.TrimSpace(input)
	if utf8.RuneCountInString(input) < 2 {
		return []Prediction{}, nil
	}
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	var body autocompleteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"input":      input,
			"types":      kind.types(),
			"components": "country:" + c.country,
			"language":   "es",
			"key":        c.apiKey,
		}).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/maps/api/place/autocomplete/json")
	if err != nil {
		c.observe("autocomplete", "error")
		return nil, fmt.Errorf("geo: autocomplete: %w", err)
	}
	if resp.IsError() {
		c.observe("autocomplete", "error")
		return nil, fmt.Errorf("geo: autocomplete: http status %d", resp.StatusCode())
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		c.observe("autocomplete", "empty")
		return []Prediction{}, nil
	default:
		c.observe("autocomplete", "error")
		return nil, fmt.Errorf("%w: autocomplete %s %s", ErrProvider, body.Status, body.ErrorMessage)
	}

	out := make([]Prediction, 0, len(body.Predictions))
	for _, p := range body.Predictions {
		pred := Prediction{Description: p.Description, PlaceID: p.PlaceID, Types: p.Types}
		for _, term := range p.Terms {
			pred.Terms = append(pred.Terms, term.Value)
		}
		out = append(out, pred)
	}
	c.observe("autocomplete", "ok")
	return out, nil
}

// PlaceCoordinates returns the location of a place. A non-OK provider status
// or a place without geometry yields nil coordinates and no error.
func (c *Client) PlaceCoordinates(ctx context.Context, placeID string) (*LatLng, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, nil
	}
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	var body detailsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"place_id": placeID,
			"fields":   "geometry",
			"key":      c.apiKey,
		}).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/maps/api/place/details/json")
	if err != nil {
		c.observe("details", "error")
		return nil, fmt.Errorf("geo: place details: %w", err)
	}
	if resp.IsError() {
		c.observe("details", "error")
		return nil, fmt.Errorf("geo: place details: http status %d", resp.StatusCode())
	}
	if body.Status != "OK" || body.Result.Geometry == nil {
		c.observe("details", "empty")
		return nil, nil
	}

	c.observe("details", "ok")
	loc := body.Result.Geometry.Location
	return &LatLng{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// Geocode resolves a free-text address to the first matching location.
func (c *Client) Geocode(ctx context.Context, address string) (LatLng, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return LatLng{}, ErrNoResults
	}
	if !c.Enabled() {
		return LatLng{}, ErrNotConfigured
	}

	var body geocodeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"address": address,
			"region":  c.country,
			"key":     c.apiKey,
		}).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/maps/api/geocode/json")
	if err != nil {
		c.observe("geocode", "error")
		return LatLng{}, fmt.Errorf("geo: geocode: %w", err)
	}
	if resp.IsError() {
		c.observe("geocode", "error")
		return LatLng{}, fmt.Errorf("geo: geocode: http status %d", resp.StatusCode())
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		c.observe("geocode", "empty")
		return LatLng{}, ErrNoResults
	default:
		c.observe("geocode", "error")
		return LatLng{}, fmt.Errorf("%w: geocode %s %s", ErrProvider, body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		c.observe("geocode", "empty")
		return LatLng{}, ErrNoResults
	}

	c.observe("geocode", "ok")
	loc := body.Results[0].Geometry.Location
	return LatLng{Lat: loc.Lat, Lng: loc.Lng}, nil
}

func (c *Client) observe(op, outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveLookup(op, outcome)
	}
}
