package hvacmodel

import (
	"fmt"
	"strconv"
	"time"

	"github.com/attic-systems/hvacd/internal/hvaerr"
)

// State is a hub entity's state as returned by GET /api/states/{entity_id}
// and carried inside state_changed events.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// NumericState parses the raw state string as a float, returning
// hvaerr.ErrInvalidObservation when the sensor reading isn't numeric
// (e.g. "unavailable", "unknown" — states the hub reports for a sensor
// that has dropped off the bus).
func (s State) NumericState() (float64, error) {
	v, err := strconv.ParseFloat(s.State, 64)
	if err != nil {
		return 0, fmt.Errorf("entity %s: state %q is not numeric: %w", s.EntityID, s.State, hvaerr.ErrInvalidObservation)
	}
	return v, nil
}

// StateChangedData is the payload of a state_changed event (spec §6).
type StateChangedData struct {
	EntityID string  `json:"entity_id"`
	NewState *State  `json:"new_state"`
	OldState *State  `json:"old_state"`
}
