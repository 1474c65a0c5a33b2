// internal/serdes/power.go
package serdes

import (
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/camlink/internal/bus"
)

// Step drives one control line and then waits for the hardware to settle.
// A nil Line makes the step a pure wait.
type Step struct {
	Name   string
	Line   bus.Line
	On     bool
	Settle time.Duration
}

// PowerSequence describes how a link chip is brought up and down.
type PowerSequence struct {
	Up   []Step
	Down []Step
}

// PowerTiming holds the settle times of the default sequence.
type PowerTiming struct {
	ResetSettle time.Duration // after releasing reset, before the rail
	RailSettle  time.Duration // after enabling the rail, before register access
}

// DefaultPowerTiming matches the MAX96792 datasheet sequencing.
var DefaultPowerTiming = PowerTiming{
	ResetSettle: 30 * time.Microsecond,
	RailSettle:  2 * time.Second,
}

// DefaultSequence releases reset, enables the rail, and waits for the
// deserializer to lock. Down disables both in reverse.
func DefaultSequence(reset, rail bus.Line, t PowerTiming) PowerSequence {
	return PowerSequence{
		Up: []Step{
			{Name: "reset", Line: reset, On: true, Settle: t.ResetSettle},
			{Name: "rail", Line: rail, On: true, Settle: t.RailSettle},
		},
		Down: []Step{
			{Name: "reset", Line: reset, On: false},
			{Name: "rail", Line: rail, On: false},
		},
	}
}

// runUp executes the up steps. On failure the lines already raised are
// dropped again, best effort.
func runUp(steps []Step, sleep bus.Sleeper) error {
	for i, st := range steps {
		if st.Line != nil {
			if err := st.Line.Set(st.On); err != nil {
				return errors.Join(
					fmt.Errorf("serdes: power step %q: %w", st.Name, err),
					revert(steps[:i]),
				)
			}
		}
		if st.Settle > 0 {
			sleep(st.Settle)
		}
	}
	return nil
}

func runDown(steps []Step, sleep bus.Sleeper) error {
	var errs []error
	for _, st := range steps {
		if st.Line != nil {
			if err := st.Line.Set(st.On); err != nil {
				errs = append(errs, fmt.Errorf("serdes: power step %q: %w", st.Name, err))
			}
		}
		if st.Settle > 0 {
			sleep(st.Settle)
		}
	}
	return errors.Join(errs...)
}

func revert(done []Step) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].Line == nil {
			continue
		}
		if err := done[i].Line.Set(!done[i].On); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
