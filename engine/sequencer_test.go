package engine_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expegaze/engine"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type fakeDisplay struct {
	screens []engine.Screen
	// failOn makes presenting that kind of screen fail with fail.
	failOn engine.ScreenKind
	fail   error
}

func (d *fakeDisplay) Present(s engine.Screen) error {
	if d.fail != nil && s.Kind == d.failOn {
		return d.fail
	}
	d.screens = append(d.screens, s)
	return nil
}

// fakeTrigger records codes and takes pulse of clock time per trigger, like a
// hardware pulse would.
type fakeTrigger struct {
	clock *fakeClock
	pulse time.Duration
	codes []int
	fail  error
}

func (t *fakeTrigger) Trigger(code int) error {
	if t.fail != nil {
		return t.fail
	}
	t.codes = append(t.codes, code)
	if t.clock != nil {
		t.clock.Sleep(t.pulse)
	}
	return nil
}

// fakeInput answers choice once after has elapsed since the first poll of a trial.
type fakeInput struct {
	clock  *fakeClock
	after  time.Duration
	choice engine.Decision
	first  time.Time
	polls  int
	// errAt makes the n-th decision stage (1-based) fail with err.
	errAt int
	err   error
	stage int
}

func (in *fakeInput) PollResponse() (engine.Decision, bool, error) {
	if in.first.IsZero() {
		in.stage++
		in.first = in.clock.Now()
	}
	in.polls++
	if in.errAt > 0 && in.stage == in.errAt {
		return "", false, in.err
	}
	if in.after >= 0 && in.clock.Now().Sub(in.first) >= in.after {
		in.first = time.Time{}
		return in.choice, true, nil
	}
	return "", false, nil
}

type fixedGaze struct{ x, y float64 }

func (g fixedGaze) CurrentPosition() (float64, float64) { return g.x, g.y }

type rig struct {
	clock   *fakeClock
	display *fakeDisplay
	trigger *fakeTrigger
	input   *fakeInput
	buf     *bytes.Buffer
	log     *engine.DecisionLog
	seq     *engine.Sequencer
}

func testTiming() engine.Timing {
	return engine.Timing{
		Blank:    500 * time.Millisecond,
		Fixation: 500 * time.Millisecond,
		Frame:    10 * time.Millisecond,
	}
}

func newRig(t *testing.T, timing engine.Timing) *rig {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := &rig{
		clock:   clock,
		display: &fakeDisplay{},
		trigger: &fakeTrigger{clock: clock, pulse: 5 * time.Millisecond},
		input:   &fakeInput{clock: clock, after: 300 * time.Millisecond, choice: engine.DecisionLeft},
		buf:     &bytes.Buffer{},
	}
	var err error
	r.log, err = engine.NewDecisionLog(r.buf)
	require.NoError(t, err)

	dev := engine.Devices{
		Display: r.display,
		Input:   r.input,
		Trigger: r.trigger,
		Gaze:    fixedGaze{x: 10, y: -20},
		Clock:   clock,
	}
	r.seq = engine.NewSequencer("S01", dev, r.log, timing, nil)
	return r
}

func spec(item int) engine.TrialSpec {
	return engine.TrialSpec{
		Condition:  "A",
		ItemNumber: item,
		Left:       engine.Options{"1", "2", "3", "4", "5", "6"},
		Right:      engine.Options{"a", "b", "c", "d", "e", "f"},
	}
}

func readCSV(t *testing.T, data string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunTrialStageOrder(t *testing.T) {
	r := newRig(t, testTiming())

	rec, err := r.seq.RunTrial(context.Background(), spec(1))
	require.NoError(t, err)

	assert.Equal(t, []int{1001, 2001, 3001}, r.trigger.codes)
	assert.Equal(t, 1, r.log.Rows())

	require.GreaterOrEqual(t, len(r.display.screens), 3)
	assert.Equal(t, engine.ScreenBlank, r.display.screens[0].Kind)
	assert.Equal(t, engine.ScreenFixation, r.display.screens[1].Kind)
	assert.Equal(t, engine.ScreenDecision, r.display.screens[2].Kind)

	assert.Equal(t, engine.TriggerDecision, rec.Trigger)
	assert.Equal(t, engine.DecisionLeft, rec.Decision)
	assert.Equal(t, "S01", rec.SubjectID)
}

func TestRunTrialReactionTimes(t *testing.T) {
	r := newRig(t, testTiming())

	rec, err := r.seq.RunTrial(context.Background(), spec(1))
	require.NoError(t, err)

	// The decision trigger pulse sits between stage entry and the clock restart.
	assert.Equal(t, 305*time.Millisecond, rec.ReactionTime)
	assert.Equal(t, 300*time.Millisecond, rec.ReactionTimeSinceDecisionStart)

	rows := readCSV(t, r.buf.String())
	require.Len(t, rows, 2)
	assert.Equal(t, "0.305", rows[1][17])
	assert.Equal(t, "0.3", rows[1][18])
}

func TestRunTrialTimeout(t *testing.T) {
	timing := testTiming()
	timing.ResponseTimeout = 200 * time.Millisecond
	r := newRig(t, timing)
	r.input.after = -1

	start := r.clock.Now()
	rec, err := r.seq.RunTrial(context.Background(), spec(1))
	require.NoError(t, err)

	assert.Equal(t, engine.DecisionNone, rec.Decision)
	assert.False(t, rec.Responded())
	assert.Zero(t, rec.ReactionTime)
	assert.Equal(t, 1215*time.Millisecond, r.clock.Now().Sub(start))

	rows := readCSV(t, r.buf.String())
	require.Len(t, rows, 2)
	assert.Equal(t, "none", rows[1][2])
	assert.Equal(t, "", rows[1][17])
	assert.Equal(t, "", rows[1][18])
}

func TestGazeDotDoesNotChangeRecords(t *testing.T) {
	run := func(dot bool) ([]engine.TrialRecord, *rig) {
		r := newRig(t, testTiming())
		for _, st := range []engine.Stage{engine.StageBlank, engine.StageFixation, engine.StageDecision} {
			r.seq.SetGazeDot(st, dot)
		}
		var recs []engine.TrialRecord
		for i := 1; i <= 3; i++ {
			rec, err := r.seq.RunTrial(context.Background(), spec(i))
			require.NoError(t, err)
			recs = append(recs, rec)
		}
		return recs, r
	}

	off, rOff := run(false)
	on, rOn := run(true)

	assert.Equal(t, off, on)
	assert.Equal(t, rOff.buf.String(), rOn.buf.String())
	assert.Equal(t, rOff.trigger.codes, rOn.trigger.codes)
	assert.Equal(t, rOff.clock.Now(), rOn.clock.Now())

	var dots int
	for _, s := range rOn.display.screens {
		if s.GazeDot != nil {
			dots++
			assert.Equal(t, engine.GazePoint{X: 10, Y: -20}, *s.GazeDot)
		}
	}
	assert.Greater(t, dots, 0)
	for _, s := range rOff.display.screens {
		assert.Nil(t, s.GazeDot)
	}
}

func TestSessionTwoTrials(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	out, err := engine.CreateDecisionLog(dir, "S01", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "S01_decision_output_20240506-070809.csv"), out.Path())

	clock := &fakeClock{now: now}
	dev := engine.Devices{
		Display: &fakeDisplay{},
		Input:   &fakeInput{clock: clock, after: 100 * time.Millisecond, choice: engine.DecisionRight},
		Trigger: &fakeTrigger{},
		Clock:   clock,
	}
	seq := engine.NewSequencer("S01", dev, out, testTiming(), nil)

	done, err := seq.RunSession(context.Background(), []engine.TrialSpec{spec(1), spec(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	require.NoError(t, out.Close())

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	rows := readCSV(t, string(data))
	require.Len(t, rows, 3)
	assert.Equal(t, engine.DecisionHeader, rows[0])
	assert.Equal(t, "1", rows[1][4])
	assert.Equal(t, "2", rows[2][4])
	assert.Equal(t, "3001", rows[1][3])
	assert.Equal(t, "3001", rows[2][3])
	assert.Equal(t, "S01", rows[2][0])
	assert.Equal(t, "A", rows[2][1])
	assert.Equal(t, "right", rows[2][2])
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, rows[1][5:11])
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, rows[1][11:17])
}

func TestSessionDeviceLostInSecondTrial(t *testing.T) {
	dir := t.TempDir()
	out, err := engine.CreateDecisionLog(dir, "S01", time.Now())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Now()}
	trigger := &fakeTrigger{}
	dev := engine.Devices{
		Display: &fakeDisplay{},
		Input: &fakeInput{
			clock: clock, after: 50 * time.Millisecond, choice: engine.DecisionLeft,
			errAt: 2, err: errors.New("usb device disconnected"),
		},
		Trigger: trigger,
		Clock:   clock,
	}
	seq := engine.NewSequencer("S01", dev, out, testTiming(), nil)

	done, err := seq.RunSession(context.Background(), []engine.TrialSpec{spec(1), spec(2), spec(3)})
	assert.Equal(t, 1, done)
	assert.True(t, errors.Is(err, engine.ErrDeviceUnavailable))
	assert.Equal(t, 2, seq.Trials())
	assert.Equal(t, []int{1001, 2001, 3001, 1001, 2001, 3001}, trigger.codes)
	require.NoError(t, out.Close())

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	rows := readCSV(t, string(data))
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[1][4])
}

func TestTriggerFailureAbortsTrial(t *testing.T) {
	r := newRig(t, testTiming())
	r.trigger.fail = errors.New("write error")

	_, err := r.seq.RunTrial(context.Background(), spec(1))
	assert.True(t, errors.Is(err, engine.ErrDeviceUnavailable))
	assert.Equal(t, 0, r.log.Rows())
	assert.Len(t, r.display.screens, 1)
}

func TestItemNumbersMustIncrease(t *testing.T) {
	r := newRig(t, testTiming())
	ctx := context.Background()

	_, err := r.seq.RunTrial(ctx, spec(2))
	require.NoError(t, err)

	_, err = r.seq.RunTrial(ctx, spec(2))
	assert.True(t, errors.Is(err, engine.ErrItemOrder))
	_, err = r.seq.RunTrial(ctx, spec(1))
	assert.True(t, errors.Is(err, engine.ErrItemOrder))
	assert.Equal(t, []int{1001, 2001, 3001}, r.trigger.codes)

	_, err = r.seq.RunTrial(ctx, spec(5))
	require.NoError(t, err)
	assert.Equal(t, 2, r.log.Rows())
}

func TestOperatorAbort(t *testing.T) {
	t.Run("escape during decision", func(t *testing.T) {
		r := newRig(t, testTiming())
		r.input.errAt = 1
		r.input.err = engine.ErrUserCancelled

		_, err := r.seq.RunTrial(context.Background(), spec(1))
		assert.True(t, errors.Is(err, engine.ErrUserCancelled))
		assert.False(t, errors.Is(err, engine.ErrDeviceUnavailable))
		assert.Equal(t, 0, r.log.Rows())
	})

	t.Run("context cancelled", func(t *testing.T) {
		r := newRig(t, testTiming())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done, err := r.seq.RunSession(ctx, []engine.TrialSpec{spec(1)})
		assert.Equal(t, 0, done)
		assert.True(t, errors.Is(err, engine.ErrUserCancelled))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

type failingWriter struct {
	n    int
	fail int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.n++
	if w.n >= w.fail {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}

func TestDecisionLogFailureIsFatal(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	out, err := engine.NewDecisionLog(&failingWriter{fail: 2})
	require.NoError(t, err)

	dev := engine.Devices{
		Display: &fakeDisplay{},
		Input:   &fakeInput{clock: clock, after: 0, choice: engine.DecisionLeft},
		Trigger: &fakeTrigger{},
		Clock:   clock,
	}
	seq := engine.NewSequencer("S01", dev, out, testTiming(), nil)

	done, err := seq.RunSession(context.Background(), []engine.TrialSpec{spec(1), spec(2)})
	assert.Equal(t, 0, done)
	assert.True(t, errors.Is(err, engine.ErrIO))
	assert.Equal(t, 1, seq.Trials())
}

func TestMultiTrigger(t *testing.T) {
	a, b := &fakeTrigger{}, &fakeTrigger{}
	m := engine.MultiTrigger{a, nil, b}
	require.NoError(t, m.Trigger(1001))
	assert.Equal(t, []int{1001}, a.codes)
	assert.Equal(t, []int{1001}, b.codes)

	a.fail = errors.New("boom")
	assert.Error(t, m.Trigger(2001))
	assert.Equal(t, []int{1001}, b.codes)
}

func TestDisplayFailureAbortsTrial(t *testing.T) {
	r := newRig(t, testTiming())
	r.display.failOn = engine.ScreenDecision
	r.display.fail = errors.New("renderer lost")

	_, err := r.seq.RunTrial(context.Background(), spec(1))
	assert.ErrorIs(t, err, engine.ErrDeviceUnavailable)
	assert.ErrorContains(t, err, "renderer lost")
	assert.Equal(t, 0, r.log.Rows())
	assert.Equal(t, []int{1001, 2001}, r.trigger.codes)
}

func TestDecisionLogNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	first, err := engine.CreateDecisionLog(dir, "S01", now)
	require.NoError(t, err)
	require.NoError(t, first.Append(engine.TrialRecord{SubjectID: "S01", Decision: engine.DecisionLeft, ItemNumber: 1}))
	require.NoError(t, first.Close())

	_, err = engine.CreateDecisionLog(dir, "S01", now)
	assert.ErrorIs(t, err, engine.ErrIO)

	data, err := os.ReadFile(first.Path())
	require.NoError(t, err)
	assert.Len(t, readCSV(t, string(data)), 2)
}

type fakeChecker struct {
	fakeTrigger
	err error
}

func (c *fakeChecker) Check() error { return c.err }

func TestMultiTriggerCheck(t *testing.T) {
	healthy, lost := &fakeChecker{}, &fakeChecker{err: errors.New("gone")}
	assert.NoError(t, engine.MultiTrigger{&fakeTrigger{}, healthy, nil}.Check())
	assert.EqualError(t, engine.MultiTrigger{healthy, lost}.Check(), "gone")
}

func TestFailingCheckerAbortsDecision(t *testing.T) {
	r := newRig(t, testTiming())
	checker := &fakeChecker{err: errors.New("tracker silent")}
	dev := engine.Devices{
		Display: r.display,
		Input:   r.input,
		Trigger: engine.MultiTrigger{r.trigger, checker},
		Clock:   r.clock,
	}
	seq := engine.NewSequencer("S01", dev, r.log, testTiming(), nil)

	_, err := seq.RunTrial(context.Background(), spec(1))
	assert.ErrorIs(t, err, engine.ErrDeviceUnavailable)
	assert.Equal(t, 0, r.log.Rows())
	assert.Equal(t, []int{1001, 2001, 3001}, r.trigger.codes)
}
