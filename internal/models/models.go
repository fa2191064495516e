package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/ride-coordinator/internal/geo"
)

// Place is a named location. Coordinate is nil until the place is resolved.
type Place struct {
	Name       string          `json:"name"`
	Address    string          `json:"address"`
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
}

// Resolved reports whether the place carries a coordinate.
func (p *Place) Resolved() bool {
	return p != nil && p.Coordinate != nil
}

// Clone returns a copy that shares no pointers with p.
func (p *Place) Clone() *Place {
	if p == nil {
		return nil
	}
	c := *p
	if p.Coordinate != nil {
		coord := *p.Coordinate
		c.Coordinate = &coord
	}
	return &c
}

// ErrPrecondition marks a caller bug: an operation was invoked before its
// inputs were ready.
var ErrPrecondition = errors.New("precondition failed")

type PreconditionError struct {
	Op      string
	Missing []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: missing %s", e.Op, strings.Join(e.Missing, ", "))
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }
