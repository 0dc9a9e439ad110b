package gaze

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// SimTracker produces jittered samples around a fixation point on a ticker. It
// stands in for a hardware tracker in demo sessions.
type SimTracker struct {
	Interval  time.Duration
	Jitter    float64 // standard deviation in display-area units
	BlinkRate float64 // probability that a sample has both eyes invalid

	mu     sync.Mutex
	target Point
	rng    *rand.Rand
	stop   chan struct{}
	done   chan struct{}
}

// NewSimTracker returns a tracker sampling at hz samples per second.
func NewSimTracker(hz int, seed uint64) *SimTracker {
	if hz <= 0 {
		hz = 60
	}
	return &SimTracker{
		Interval:  time.Second / time.Duration(hz),
		Jitter:    0.01,
		BlinkRate: 0.01,
		target:    Point{X: 0.5, Y: 0.5},
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// LookAt moves the simulated fixation point.
func (t *SimTracker) LookAt(p Point) {
	t.mu.Lock()
	t.target = p
	t.mu.Unlock()
}

func (t *SimTracker) SystemTime() int64 {
	return time.Now().UnixMicro()
}

func (t *SimTracker) Subscribe(fn func(RawSample)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return goerr.New("simulated tracker already subscribed")
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go t.loop(fn, t.stop, t.done)
	return nil
}

func (t *SimTracker) Unsubscribe() error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return goerr.New("simulated tracker not subscribed")
	}
	close(stop)
	<-done
	return nil
}

func (t *SimTracker) loop(fn func(RawSample), stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn(t.next())
		}
	}
}

func (t *SimTracker) next() RawSample {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := RawSample{SystemTimeStamp: t.SystemTime()}
	if t.rng.Float64() < t.BlinkRate {
		nan := math.NaN()
		s.LeftGaze = Point{X: nan, Y: nan}
		s.RightGaze = Point{X: nan, Y: nan}
		s.LeftPupil, s.RightPupil = nan, nan
		return s
	}

	s.LeftGaze = Point{X: t.target.X + t.rng.NormFloat64()*t.Jitter, Y: t.target.Y + t.rng.NormFloat64()*t.Jitter}
	s.RightGaze = Point{X: t.target.X + t.rng.NormFloat64()*t.Jitter, Y: t.target.Y + t.rng.NormFloat64()*t.Jitter}
	s.LeftGazeValid, s.RightGazeValid = true, true
	s.LeftPupil = 3.5 + t.rng.NormFloat64()*0.05
	s.RightPupil = 3.5 + t.rng.NormFloat64()*0.05
	s.LeftPupilValid, s.RightPupilValid = true, true
	return s
}
