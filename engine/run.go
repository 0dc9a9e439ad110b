package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"expegaze/gaze"
	"expegaze/store"
)

// Run runs one complete session: it opens the window and devices, shows the
// splash screens around the trials and hands the rest to RunWithDevices.
func Run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	trials, err := LoadConditions(cfg.ConditionsFile)
	if err != nil {
		return err
	}

	surface, err := OpenSDLSurface(cfg, logger)
	if err != nil {
		return err
	}
	defer surface.Close()
	surface.Preload(trials)

	dev := Devices{Display: surface, Input: surface}
	if cfg.DLPDevice != "" {
		dlp, err := NewDLPIO8G(cfg.DLPDevice, 9600)
		if err != nil {
			logger.Warn("failed to initialize DLP device", slog.String("device", cfg.DLPDevice), slog.Any("error", err))
		} else {
			defer dlp.Close()
			dev.Trigger = dlp
		}
	}

	var tracker gaze.Tracker
	if cfg.Tracker == TrackerSim {
		tracker = gaze.NewSimTracker(cfg.TrackerRate, uint64(time.Now().UnixNano()))
	}

	if err := surface.Splash(cfg.StartSplash); err != nil {
		return err
	}
	if err := RunWithDevices(ctx, cfg, trials, dev, tracker, logger); err != nil {
		return err
	}
	if err := surface.Splash(cfg.EndSplash); err != nil {
		logger.Warn("end splash interrupted", slog.Any("error", err))
	}
	return nil
}

// RunWithDevices runs trials on already opened devices. It creates the session
// in the recording store, records gaze data from tracker when it is not nil,
// writes the decision log and persists the recording whatever the outcome of the
// trials. dev.Trigger may be nil; the recorder is added to it as a trigger sink
// and takes the place of dev.Gaze.
func RunWithDevices(ctx context.Context, cfg *Config, trials []TrialSpec, dev Devices, tracker gaze.Tracker, logger *slog.Logger) (err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dev.Clock == nil {
		dev.Clock = SystemClock
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create output directory", goerr.Value("dir", cfg.OutputDir))
	}

	now := dev.Clock.Now()

	st, err := store.Create(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	info := store.NewSessionInfo(cfg.SubjectID, cfg.Experiment, now)
	if err := st.CreateSession(ctx, info); err != nil {
		return err
	}
	logger.Info("session created", slog.String("session", info.Name), slog.String("id", info.ID))

	triggers := MultiTrigger{dev.Trigger}
	if tracker != nil {
		recorder := gaze.NewRecorder(tracker, gaze.Screen{Width: cfg.ScreenWidth, Height: cfg.ScreenHeight}, logger)
		recorder.StaleAfter = cfg.TrackerTimeout
		path := filepath.Join(cfg.OutputDir, EyetrackingLogName(cfg.SubjectID, now))
		if err := recorder.Start(path); err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, finishRecording(context.WithoutCancel(ctx), recorder, st, info.ID))
		}()
		triggers = append(triggers, recorder)
		dev.Gaze = recorder
	}
	dev.Trigger = triggers

	out, err := CreateDecisionLog(cfg.OutputDir, cfg.SubjectID, now)
	if err != nil {
		return err
	}
	defer out.Close()

	seq := NewSequencer(cfg.SubjectID, dev, out, cfg.Timing, logger)
	for _, stage := range cfg.GazeDotStages {
		seq.SetGazeDot(stage, true)
	}

	done, err := seq.RunSession(ctx, trials)
	logger.Info("session finished",
		slog.Int("trials", done),
		slog.Int("of", len(trials)),
		slog.String("output", out.Path()),
	)
	return err
}

func finishRecording(ctx context.Context, rec *gaze.Recorder, sink gaze.SampleSink, sessionID string) error {
	if err := rec.Stop(); err != nil {
		return err
	}
	return rec.Persist(ctx, sink, sessionID)
}
