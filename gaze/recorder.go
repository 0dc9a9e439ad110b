package gaze

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"expegaze/store"
)

// ErrNotRecording is returned by operations that need an active recording.
var ErrNotRecording = errors.New("gaze recorder is not recording")

// ErrTrackerLost is returned once the tracker has been silent for longer than the
// recorder's StaleAfter window.
var ErrTrackerLost = errors.New("eye tracker stopped delivering samples")

// DefaultStaleAfter is the silence a recorder tolerates before it reports the
// tracker as lost.
const DefaultStaleAfter = 500 * time.Millisecond

// Header is the first line of the eyetracking output file.
var Header = []string{
	"TimeStamp",
	"GazePointXLeft",
	"GazePointYLeft",
	"ValidityLeft",
	"GazePointXRight",
	"GazePointYRight",
	"ValidityRight",
	"GazePointX",
	"GazePointY",
	"PupilSizeLeft",
	"PupilValidityLeft",
	"PupilSizeRight",
	"PupilValidityRight",
	"PupilSize",
}

// Tracker is the eye-tracker SDK surface the recorder needs. Subscribe may deliver
// samples from another goroutine.
type Tracker interface {
	Subscribe(fn func(RawSample)) error
	Unsubscribe() error
	// SystemTime is the tracker clock in microseconds.
	SystemTime() int64
}

// SampleSink persists recorded events. *store.Store implements it.
type SampleSink interface {
	AppendEvents(ctx context.Context, sessionID string, samples []store.SampleRow, messages []store.MessageRow) error
}

// Event is a timestamped mark recorded alongside the samples.
type Event struct {
	SystemTime int64
	Time       float64
	Text       string
}

// Recorder buffers tracker samples and event marks for one recording and writes
// them out when the recording stops.
type Recorder struct {
	tracker Tracker
	screen  Screen
	logger  *slog.Logger

	// StaleAfter is the longest gap between samples before Check and Trigger
	// fail with ErrTrackerLost. Zero disables the check.
	StaleAfter time.Duration

	mu         sync.Mutex
	recording  bool
	t0         int64
	lastSample int64
	raw       []RawSample
	marks     []Event
	path      string

	samples []Sample
	events  []Event
}

func NewRecorder(tr Tracker, screen Screen, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{tracker: tr, screen: screen, logger: logger, StaleAfter: DefaultStaleAfter}
}

// Start begins a recording that will be flushed to path by Stop.
func (r *Recorder) Start(path string) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return goerr.New("recording already started", goerr.Value("path", r.path))
	}
	r.raw = nil
	r.marks = nil
	r.samples = nil
	r.events = nil
	r.path = path
	r.mu.Unlock()

	// Create the file up front so a bad or taken path fails before the session starts.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return goerr.Wrap(err, "failed to create eyetracking output", goerr.Value("path", path))
	}
	f.Close()

	if err := r.tracker.Subscribe(r.onGaze); err != nil {
		return goerr.Wrap(err, "failed to subscribe to gaze data")
	}

	r.mu.Lock()
	r.t0 = r.tracker.SystemTime()
	r.lastSample = r.t0
	r.recording = true
	r.mu.Unlock()

	r.logger.Info("gaze recording started", slog.String("path", path))
	return nil
}

func (r *Recorder) onGaze(s RawSample) {
	r.mu.Lock()
	r.raw = append(r.raw, s)
	r.lastSample = max(r.lastSample, s.SystemTimeStamp)
	r.mu.Unlock()
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Check reports ErrNotRecording outside a recording and ErrTrackerLost when no
// sample arrived within StaleAfter.
func (r *Recorder) Check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLocked()
}

func (r *Recorder) checkLocked() error {
	if !r.recording {
		return ErrNotRecording
	}
	if r.StaleAfter <= 0 {
		return nil
	}
	silence := time.Duration(r.tracker.SystemTime()-r.lastSample) * time.Microsecond
	if silence > r.StaleAfter {
		return goerr.Wrap(ErrTrackerLost, "no gaze sample",
			goerr.Value("silence", silence.String()),
			goerr.Value("limit", r.StaleAfter.String()),
		)
	}
	return nil
}

// Trigger records a trigger code as an event mark stamped with the tracker clock.
// It fails when the tracker has gone silent.
func (r *Recorder) Trigger(code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(); err != nil {
		return err
	}
	r.marks = append(r.marks, Event{SystemTime: r.tracker.SystemTime(), Text: strconv.Itoa(code)})
	return nil
}

// CurrentPosition returns the newest averaged gaze position in screen-centred
// pixels, or NaN when there is no valid sample.
func (r *Recorder) CurrentPosition() (float64, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.raw) == 0 {
		return math.NaN(), math.NaN()
	}
	s := Convert(r.raw[len(r.raw)-1], r.screen, r.t0)
	return s.X, s.Y
}

// CurrentPupilSize returns the newest averaged pupil diameter, or NaN.
func (r *Recorder) CurrentPupilSize() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.raw) == 0 {
		return math.NaN()
	}
	return round(averagePupil(r.raw[len(r.raw)-1]), 4)
}

// Stop ends the recording and writes every sample, then every event mark, to the
// output file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.mu.Unlock()

	if err := r.tracker.Unsubscribe(); err != nil {
		r.logger.Warn("failed to unsubscribe from gaze data", slog.Any("error", err))
	}

	r.mu.Lock()
	r.recording = false
	r.samples = make([]Sample, len(r.raw))
	for i, raw := range r.raw {
		r.samples[i] = Convert(raw, r.screen, r.t0)
	}
	r.events = make([]Event, len(r.marks))
	for i, m := range r.marks {
		m.Time = round(float64(m.SystemTime-r.t0)/1000.0, 1)
		r.events[i] = m
	}
	path := r.path
	r.mu.Unlock()

	if len(r.samples) == 0 {
		r.logger.Warn("no gaze data were collected", slog.String("path", path))
	}
	if err := r.flush(path); err != nil {
		return err
	}

	r.logger.Info("gaze recording stopped",
		slog.String("path", path),
		slog.Int("samples", len(r.samples)),
		slog.Int("events", len(r.events)),
	)
	return nil
}

func (r *Recorder) flush(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return goerr.Wrap(err, "failed to open eyetracking output", goerr.Value("path", path))
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.WriteString(strings.Join(Header, "\t") + "\n")
	for _, s := range r.samples {
		w.WriteString(strings.Join(sampleFields(s), "\t") + "\n")
	}
	for _, e := range r.events {
		w.WriteString(formatFloat(e.Time) + "\t" + e.Text + "\n")
	}

	if err := w.Flush(); err != nil {
		return goerr.Wrap(err, "failed to write eyetracking output", goerr.Value("path", path))
	}
	if err := f.Sync(); err != nil {
		return goerr.Wrap(err, "failed to sync eyetracking output", goerr.Value("path", path))
	}
	return nil
}

func sampleFields(s Sample) []string {
	return []string{
		formatFloat(s.Time),
		formatFloat(s.LeftX),
		formatFloat(s.LeftY),
		formatBool(s.LeftValid),
		formatFloat(s.RightX),
		formatFloat(s.RightY),
		formatBool(s.RightValid),
		formatFloat(s.X),
		formatFloat(s.Y),
		formatFloat(s.LeftPupil),
		formatBool(s.LeftPupilValid),
		formatFloat(s.RightPupil),
		formatBool(s.RightPupilValid),
		formatFloat(s.Pupil),
	}
}

// Samples returns the converted samples of the last stopped recording.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Events returns the event marks of the last stopped recording.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Persist writes the last stopped recording to sink under sessionID.
func (r *Recorder) Persist(ctx context.Context, sink SampleSink, sessionID string) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return goerr.New("cannot persist while recording")
	}
	samples := make([]store.SampleRow, len(r.samples))
	for i, s := range r.samples {
		samples[i] = store.SampleRow{
			LoggedTime:      float64(s.SystemTime) / 1e6,
			Time:            s.Time,
			LeftX:           s.LeftX,
			LeftY:           s.LeftY,
			LeftValid:       s.LeftValid,
			RightX:          s.RightX,
			RightY:          s.RightY,
			RightValid:      s.RightValid,
			X:               s.X,
			Y:               s.Y,
			LeftPupil:       s.LeftPupil,
			LeftPupilValid:  s.LeftPupilValid,
			RightPupil:      s.RightPupil,
			RightPupilValid: s.RightPupilValid,
			Pupil:           s.Pupil,
		}
	}
	messages := make([]store.MessageRow, len(r.events))
	for i, e := range r.events {
		messages[i] = store.MessageRow{LoggedTime: float64(e.SystemTime) / 1e6, Time: e.Time, Text: e.Text}
	}
	r.mu.Unlock()

	if err := sink.AppendEvents(ctx, sessionID, samples, messages); err != nil {
		return goerr.Wrap(err, "failed to persist gaze recording", goerr.Value("session_id", sessionID))
	}
	return nil
}
