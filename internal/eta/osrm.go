package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-coordinator/internal/geo"
)

// ErrNoRoute means the router answered but found no drivable path.
var ErrNoRoute = errors.New("osrm: no route")

// OSRMClient asks an OSRM server for travel durations.
type OSRMClient struct {
	Endpoint string
	// Profile is the OSRM profile segment, "driving" unless set.
	Profile string
	Client  *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Profile:  "driving",
		Client:   &http.Client{Timeout: 2 * time.Second},
	}
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func (o *OSRMClient) routeURL(from, to geo.Coordinate) string {
	profile := o.Profile
	if profile == "" {
		profile = "driving"
	}
	// lon,lat order
	return fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, profile, from.Lon, from.Lat, to.Lon, to.Lat)
}

// EstimateSeconds returns the duration of the fastest route from -> to.
func (o *OSRMClient) EstimateSeconds(ctx context.Context, from, to geo.Coordinate) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.routeURL(from, to), nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	var out osrmRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("osrm status %d: %w", resp.StatusCode, err)
	}
	switch {
	case out.Code == "NoRoute", out.Code == "Ok" && len(out.Routes) == 0:
		return 0, ErrNoRoute
	case resp.StatusCode != http.StatusOK || out.Code != "Ok":
		return 0, fmt.Errorf("osrm status %d code %q", resp.StatusCode, out.Code)
	}
	return out.Routes[0].Duration, nil
}
