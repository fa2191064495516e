package location

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/ride-coordinator/internal/geo"
)

// geocoder is the part of *maps.Client we call.
type geocoder interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleResolver geocodes through the Google Maps Geocoding API.
type GoogleResolver struct {
	client   geocoder
	Region   string
	Language string
}

func NewGoogleResolver(apiKey string) (*GoogleResolver, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleResolver{client: client}, nil
}

func (g *GoogleResolver) Resolve(ctx context.Context, text string) (geo.Coordinate, bool, error) {
	res, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  text,
		Region:   g.Region,
		Language: g.Language,
	})
	if err != nil {
		return geo.Coordinate{}, false, fmt.Errorf("geocode api error: %w", err)
	}
	if len(res) == 0 {
		return geo.Coordinate{}, false, nil
	}
	loc := res[0].Geometry.Location
	return geo.Coordinate{Lat: loc.Lat, Lon: loc.Lng}, true, nil
}

func (g *GoogleResolver) Reverse(ctx context.Context, c geo.Coordinate) (string, bool, error) {
	res, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: c.Lat, Lng: c.Lon},
		Language: g.Language,
	})
	if err != nil {
		return "", false, fmt.Errorf("reverse geocode api error: %w", err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	return res[0].FormattedAddress, true, nil
}
