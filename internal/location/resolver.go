// Package location turns place text into coordinates and back.
package location

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

// Resolver resolves free text to a coordinate and a coordinate to an
// address. A false result with a nil error means "no match".
type Resolver interface {
	Resolve(ctx context.Context, text string) (geo.Coordinate, bool, error)
	Reverse(ctx context.Context, c geo.Coordinate) (string, bool, error)
}

var ErrUnresolved = errors.New("place could not be resolved")

// ResolvePlace fills in p.Coordinate when it is missing, using the address
// if present and the name otherwise. Resolved places are returned as is.
func ResolvePlace(ctx context.Context, r Resolver, p *models.Place) (*models.Place, error) {
	if p == nil || p.Resolved() || r == nil {
		return p, nil
	}
	query := strings.TrimSpace(p.Address)
	if query == "" {
		query = strings.TrimSpace(p.Name)
	}
	if query == "" {
		return p, nil
	}
	c, ok, err := r.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnresolved
	}
	out := p.Clone()
	out.Coordinate = &c
	return out, nil
}

func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// StaticResolver answers from a fixed table of names. Useful for local runs
// without a geocoding key.
type StaticResolver struct {
	mu      sync.RWMutex
	entries map[string]geo.Coordinate
	names   map[geo.Coordinate]string
}

func NewStaticResolver(places map[string]geo.Coordinate) *StaticResolver {
	s := &StaticResolver{entries: make(map[string]geo.Coordinate), names: make(map[geo.Coordinate]string)}
	for name, c := range places {
		s.Add(name, c)
	}
	return s
}

func (s *StaticResolver) Add(name string, c geo.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[normalize(name)] = c
	s.names[c] = name
}

func (s *StaticResolver) Resolve(_ context.Context, text string) (geo.Coordinate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[normalize(text)]
	return c, ok, nil
}

func (s *StaticResolver) Reverse(_ context.Context, c geo.Coordinate) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[c]
	return name, ok, nil
}
