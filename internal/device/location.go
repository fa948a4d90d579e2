// Package device adapts the reporter's capabilities: position fixes and
// photos.
package device

import (
	"context"
	"errors"

	"github.com/pathlabs/trackmate/internal/domain"
)

// ErrPositionUnavailable is returned when no fix can be obtained.
var ErrPositionUnavailable = errors.New("position unavailable")

// Locator obtains the current position.
type Locator interface {
	CurrentPosition(ctx context.Context) (domain.Coordinates, error)
}

// StaticLocator returns a fix supplied up front, e.g. from command line
// flags or a GPS log. A nil fix means no position.
type StaticLocator struct {
	Fix *domain.Coordinates
}

// CurrentPosition implements Locator.
func (l StaticLocator) CurrentPosition(ctx context.Context) (domain.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return domain.Coordinates{}, err
	}
	if l.Fix == nil {
		return domain.Coordinates{}, ErrPositionUnavailable
	}
	if !l.Fix.LatLng().IsValid() {
		return domain.Coordinates{}, ErrPositionUnavailable
	}
	return *l.Fix, nil
}

var _ Locator = StaticLocator{}
