package main

import (
	"context"
	"log/slog"

	"github.com/Zyko0/go-sdl3/bin/binimg"
	"github.com/Zyko0/go-sdl3/bin/binsdl"
	"github.com/Zyko0/go-sdl3/bin/binttf"
	"github.com/urfave/cli/v3"

	"expegaze/engine"
)

type sessionRunner func(ctx context.Context, cfg *engine.Config, logger *slog.Logger) error

func runWithSDL(ctx context.Context, cfg *engine.Config, logger *slog.Logger) error {
	defer binsdl.Load().Unload()
	defer binimg.Load().Unload()
	defer binttf.Load().Unload()

	return engine.Run(ctx, cfg, logger)
}

func runCommand(runner sessionRunner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run an experiment session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Sources: cli.EnvVars("EXPEGAZE_CONFIG"), Usage: "YAML session file"},
			&cli.BoolFlag{Name: "no-cache", Usage: "Ignore and do not update " + engine.CacheFile},
			&cli.StringFlag{Name: "subject", Sources: cli.EnvVars("EXPEGAZE_SUBJECT"), Usage: "Subject id"},
			&cli.StringFlag{Name: "experiment", Sources: cli.EnvVars("EXPEGAZE_EXPERIMENT"), Usage: "Experiment name stored with the session"},
			&cli.StringFlag{Name: "conditions", Sources: cli.EnvVars("EXPEGAZE_CONDITIONS"), Usage: "Conditions CSV file"},
			&cli.StringFlag{Name: "output-dir", Sources: cli.EnvVars("EXPEGAZE_OUTPUT_DIR"), Usage: "Directory for decision and eyetracking output"},
			&cli.StringFlag{Name: "store", Sources: cli.EnvVars("EXPEGAZE_STORE"), Usage: "Recording store file"},
			&cli.StringFlag{Name: "start-splash", Usage: "Start splash image"},
			&cli.StringFlag{Name: "end-splash", Usage: "End splash image"},
			&cli.StringFlag{Name: "font", Usage: "TTF font file"},
			&cli.IntFlag{Name: "font-size", Usage: "Font size"},
			&cli.StringFlag{Name: "dlp", Sources: cli.EnvVars("EXPEGAZE_DLP"), Usage: "DLP-IO8-G device"},
			&cli.StringFlag{Name: "tracker", Sources: cli.EnvVars("EXPEGAZE_TRACKER"), Usage: "Eye tracker (sim, none)"},
			&cli.IntFlag{Name: "tracker-rate", Usage: "Eye tracker sampling rate in Hz"},
			&cli.DurationFlag{Name: "tracker-timeout", Usage: "Sample silence after which the tracker counts as lost, 0 disables"},
			&cli.IntFlag{Name: "width", Sources: cli.EnvVars("EXPEGAZE_WIDTH"), Usage: "Screen width"},
			&cli.IntFlag{Name: "height", Sources: cli.EnvVars("EXPEGAZE_HEIGHT"), Usage: "Screen height"},
			&cli.FloatFlag{Name: "scale", Usage: "Scale factor for splash images"},
			&cli.BoolFlag{Name: "fullscreen", Usage: "Enable fullscreen"},
			&cli.BoolFlag{Name: "no-vsync", Usage: "Disable VSync"},
			&cli.StringFlag{Name: "left-key", Usage: "Key name choosing the left option"},
			&cli.StringFlag{Name: "right-key", Usage: "Key name choosing the right option"},
			&cli.DurationFlag{Name: "blank", Usage: "Blank stage duration"},
			&cli.DurationFlag{Name: "fixation", Usage: "Fixation stage duration"},
			&cli.DurationFlag{Name: "response-timeout", Usage: "Decision deadline, 0 waits forever"},
			&cli.StringFlag{Name: "gaze-dot", Usage: "Stages showing the gaze dot (e.g. fixation,decision)"},
			&cli.StringFlag{Name: "bg-color", Usage: "Background color (R,G,B,A)"},
			&cli.StringFlag{Name: "text-color", Usage: "Text color (R,G,B,A)"},
			&cli.StringFlag{Name: "fixation-color", Usage: "Fixation color (R,G,B,A)"},
			&cli.StringFlag{Name: "gaze-dot-color", Usage: "Gaze dot color (R,G,B,A)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cmd.Bool("no-cache") {
				cfg.SaveCache()
			}
			return runner(ctx, cfg, slog.Default())
		},
	}
}

// configFromCommand layers settings: defaults, the cache file, the YAML file, then
// environment and flags.
func configFromCommand(cmd *cli.Command) (*engine.Config, error) {
	cfg := engine.DefaultConfig()
	if !cmd.Bool("no-cache") {
		cfg.LoadCache()
	}
	if path := cmd.String("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	strs := map[string]*string{
		"subject":      &cfg.SubjectID,
		"experiment":   &cfg.Experiment,
		"conditions":   &cfg.ConditionsFile,
		"output-dir":   &cfg.OutputDir,
		"store":        &cfg.StorePath,
		"start-splash": &cfg.StartSplash,
		"end-splash":   &cfg.EndSplash,
		"font":         &cfg.FontFile,
		"dlp":          &cfg.DLPDevice,
		"tracker":      &cfg.Tracker,
		"left-key":     &cfg.LeftKey,
		"right-key":    &cfg.RightKey,
	}
	for name, dst := range strs {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}

	ints := map[string]*int{
		"font-size":    &cfg.FontSize,
		"tracker-rate": &cfg.TrackerRate,
		"width":        &cfg.ScreenWidth,
		"height":       &cfg.ScreenHeight,
	}
	for name, dst := range ints {
		if cmd.IsSet(name) {
			*dst = cmd.Int(name)
		}
	}

	if cmd.IsSet("blank") {
		cfg.Timing.Blank = cmd.Duration("blank")
	}
	if cmd.IsSet("fixation") {
		cfg.Timing.Fixation = cmd.Duration("fixation")
	}
	if cmd.IsSet("tracker-timeout") {
		cfg.TrackerTimeout = cmd.Duration("tracker-timeout")
	}
	if cmd.IsSet("response-timeout") {
		cfg.Timing.ResponseTimeout = cmd.Duration("response-timeout")
	}
	if cmd.IsSet("scale") {
		cfg.ScaleFactor = float32(cmd.Float("scale"))
	}
	if cmd.IsSet("fullscreen") {
		cfg.Fullscreen = cmd.Bool("fullscreen")
	}
	if cmd.IsSet("no-vsync") {
		cfg.VSync = !cmd.Bool("no-vsync")
	}
	if cmd.IsSet("gaze-dot") {
		stages, err := engine.ParseStages(cmd.String("gaze-dot"))
		if err != nil {
			return nil, err
		}
		cfg.GazeDotStages = stages
	}

	if cmd.IsSet("bg-color") {
		cfg.BGColor = engine.ParseColor(cmd.String("bg-color"))
	}
	if cmd.IsSet("text-color") {
		cfg.TextColor = engine.ParseColor(cmd.String("text-color"))
	}
	if cmd.IsSet("fixation-color") {
		cfg.FixationColor = engine.ParseColor(cmd.String("fixation-color"))
	}
	if cmd.IsSet("gaze-dot-color") {
		cfg.GazeDotColor = engine.ParseColor(cmd.String("gaze-dot-color"))
	}
	return cfg, nil
}
