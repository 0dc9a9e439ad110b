package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Timing holds the stage durations of a trial.
type Timing struct {
	Blank    time.Duration
	Fixation time.Duration
	// ResponseTimeout ends the decision stage without a choice. Zero waits forever.
	ResponseTimeout time.Duration
	// Frame is the redraw and polling interval.
	Frame time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Blank:    500 * time.Millisecond,
		Fixation: 500 * time.Millisecond,
		Frame:    time.Second / 60,
	}
}

// Sequencer runs trials as a fixed blank, fixation, decision sequence and logs one
// record per completed trial. It is driven from a single goroutine.
type Sequencer struct {
	subjectID string
	dev       Devices
	out       *DecisionLog
	timing    Timing
	logger    *slog.Logger

	gazeDot  [3]bool
	lastItem int
	hasItem  bool
	trials   int
}

func NewSequencer(subjectID string, dev Devices, out *DecisionLog, timing Timing, logger *slog.Logger) *Sequencer {
	if dev.Clock == nil {
		dev.Clock = SystemClock
	}
	if timing.Frame <= 0 {
		timing.Frame = DefaultTiming().Frame
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		subjectID: subjectID,
		dev:       dev,
		out:       out,
		timing:    timing,
		logger:    logger,
	}
}

// SetGazeDot toggles drawing of the current gaze position during stage. It has no
// effect on timing, triggers or logged data.
func (s *Sequencer) SetGazeDot(stage Stage, on bool) {
	if stage >= StageBlank && stage <= StageDecision {
		s.gazeDot[stage] = on
	}
}

// Trials is the number of trials started so far.
func (s *Sequencer) Trials() int { return s.trials }

// RunTrial runs one trial and appends its record to the decision log.
func (s *Sequencer) RunTrial(ctx context.Context, spec TrialSpec) (TrialRecord, error) {
	if s.hasItem && spec.ItemNumber <= s.lastItem {
		return TrialRecord{}, goerr.Wrap(ErrItemOrder, "rejected trial",
			goerr.Value("item", spec.ItemNumber),
			goerr.Value("previous", s.lastItem),
		)
	}
	s.trials++
	clock := s.dev.Clock

	blank := Screen{Kind: ScreenBlank}
	if err := s.enter(StageBlank, blank); err != nil {
		return TrialRecord{}, err
	}
	if err := s.hold(ctx, StageBlank, blank, s.timing.Blank); err != nil {
		return TrialRecord{}, err
	}

	fixation := Screen{Kind: ScreenFixation}
	if err := s.enter(StageFixation, fixation); err != nil {
		return TrialRecord{}, err
	}
	if err := s.hold(ctx, StageFixation, fixation, s.timing.Fixation); err != nil {
		return TrialRecord{}, err
	}

	decision := Screen{Kind: ScreenDecision, Left: spec.Left, Right: spec.Right}
	onset := clock.Now()
	if err := s.enter(StageDecision, decision); err != nil {
		return TrialRecord{}, err
	}
	decisionStart := clock.Now()

	choice, at, err := s.await(ctx, decision, decisionStart)
	if err != nil {
		return TrialRecord{}, err
	}

	rec := TrialRecord{
		SubjectID:  s.subjectID,
		Condition:  spec.Condition,
		Decision:   choice,
		Trigger:    StageDecision.Trigger(),
		ItemNumber: spec.ItemNumber,
		Left:       spec.Left,
		Right:      spec.Right,
	}
	if rec.Responded() {
		rec.ReactionTime = at.Sub(onset)
		rec.ReactionTimeSinceDecisionStart = at.Sub(decisionStart)
	}

	if err := s.out.Append(rec); err != nil {
		return TrialRecord{}, err
	}
	s.lastItem = spec.ItemNumber
	s.hasItem = true
	return rec, nil
}

// RunSession runs trials in order and stops at the first failure. It returns the
// number of trials logged.
func (s *Sequencer) RunSession(ctx context.Context, trials []TrialSpec) (int, error) {
	done := 0
	for i, spec := range trials {
		rec, err := s.RunTrial(ctx, spec)
		if err != nil {
			s.logger.Error("trial aborted",
				slog.Int("trial", i+1),
				slog.Int("item", spec.ItemNumber),
				slog.Any("error", err),
			)
			return done, err
		}
		done++
		s.logger.Info("trial complete",
			slog.Int("trial", i+1),
			slog.Int("of", len(trials)),
			slog.String("decision", string(rec.Decision)),
			slog.Duration("rt", rec.ReactionTime),
		)
	}
	return done, nil
}

func (s *Sequencer) enter(stage Stage, screen Screen) error {
	if err := s.present(stage, screen); err != nil {
		return err
	}
	code := stage.Trigger()
	if err := s.dev.Trigger.Trigger(int(code)); err != nil {
		return goerr.Wrap(deviceError(err), "failed to send trigger",
			goerr.Value("stage", stage.String()),
			goerr.Value("code", int(code)),
		)
	}
	s.logger.Debug("stage entered", slog.String("stage", stage.String()), slog.Int("trigger", int(code)))
	return nil
}

func (s *Sequencer) present(stage Stage, screen Screen) error {
	if s.gazeDot[stage] && s.dev.Gaze != nil {
		x, y := s.dev.Gaze.CurrentPosition()
		if !math.IsNaN(x) && !math.IsNaN(y) {
			screen.GazeDot = &GazePoint{X: x, Y: y}
		}
	}
	if err := s.dev.Display.Present(screen); err != nil {
		return goerr.Wrap(deviceError(err), "failed to present screen", goerr.Value("stage", stage.String()))
	}
	return nil
}

// hold keeps screen up for d. The sleep pattern does not depend on the gaze dot.
func (s *Sequencer) hold(ctx context.Context, stage Stage, screen Screen, d time.Duration) error {
	clock := s.dev.Clock
	deadline := clock.Now().Add(d)
	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return nil
		}
		if s.gazeDot[stage] {
			if err := s.present(stage, screen); err != nil {
				return err
			}
		}
		clock.Sleep(min(remaining, s.timing.Frame))
	}
}

// await polls for a choice until one arrives or the response deadline passes.
func (s *Sequencer) await(ctx context.Context, screen Screen, start time.Time) (Decision, time.Time, error) {
	clock := s.dev.Clock
	var deadline time.Time
	if s.timing.ResponseTimeout > 0 {
		deadline = start.Add(s.timing.ResponseTimeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", time.Time{}, cancelled(err)
		}

		choice, ok, err := s.dev.Input.PollResponse()
		now := clock.Now()
		if err != nil {
			if errors.Is(err, ErrUserCancelled) {
				return "", time.Time{}, err
			}
			return "", time.Time{}, goerr.Wrap(deviceError(err), "response device failed")
		}
		if err := s.checkDevices(); err != nil {
			return "", time.Time{}, err
		}
		if ok {
			return choice, now, nil
		}

		wait := s.timing.Frame
		if !deadline.IsZero() {
			remaining := deadline.Sub(now)
			if remaining <= 0 {
				return DecisionNone, now, nil
			}
			wait = min(wait, remaining)
		}

		if s.gazeDot[StageDecision] {
			if err := s.present(StageDecision, screen); err != nil {
				return "", time.Time{}, err
			}
		}
		clock.Sleep(wait)
	}
}

// checkDevices asks every device implementing Checker whether it is still alive.
func (s *Sequencer) checkDevices() error {
	for _, d := range []any{s.dev.Input, s.dev.Trigger, s.dev.Gaze} {
		c, ok := d.(Checker)
		if !ok {
			continue
		}
		if err := c.Check(); err != nil {
			return goerr.Wrap(deviceError(err), "device check failed")
		}
	}
	return nil
}

func deviceError(err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrUserCancelled, err)
}
