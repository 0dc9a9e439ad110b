package engine

import "time"

// Display draws full frames. Present replaces whatever was on screen.
type Display interface {
	Present(s Screen) error
}

// ResponseInput is polled once per frame during the decision stage. ok is false
// when no choice has been made yet. Escape or window close returns ErrUserCancelled;
// a lost device returns an error wrapping ErrDeviceUnavailable.
type ResponseInput interface {
	PollResponse() (d Decision, ok bool, err error)
}

// TriggerSink receives a trigger code at every stage entry.
type TriggerSink interface {
	Trigger(code int) error
}

// GazeSource reports the newest gaze position in screen-centred pixels, NaN when
// unknown.
type GazeSource interface {
	CurrentPosition() (x, y float64)
}

// Checker is implemented by devices that can fail between calls, such as a tracker
// that stopped streaming. The sequencer checks them every decision frame.
type Checker interface {
	Check() error
}

// Clock abstracts time for the sequencer.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Devices bundles everything a Sequencer drives. Gaze may be nil; Clock defaults
// to SystemClock.
type Devices struct {
	Display Display
	Input   ResponseInput
	Trigger TriggerSink
	Gaze    GazeSource
	Clock   Clock
}

// MultiTrigger fans a trigger out to several sinks, in order. It stops at the
// first failure.
type MultiTrigger []TriggerSink

func (m MultiTrigger) Trigger(code int) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Trigger(code); err != nil {
			return err
		}
	}
	return nil
}

// Check returns the first failure reported by a sink implementing Checker.
func (m MultiTrigger) Check() error {
	for _, s := range m {
		if c, ok := s.(Checker); ok {
			if err := c.Check(); err != nil {
				return err
			}
		}
	}
	return nil
}
