package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Zyko0/go-sdl3/sdl"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"expegaze/gaze"
)

const (
	TrackerNone = "none"
	TrackerSim  = "sim"
)

type Config struct {
	SubjectID      string
	Experiment     string
	ConditionsFile string
	OutputDir      string
	StorePath      string
	StartSplash    string
	EndSplash      string
	FontFile       string
	DLPDevice      string
	Tracker        string
	TrackerRate    int
	// TrackerTimeout is the sample silence after which the tracker counts as lost.
	TrackerTimeout time.Duration
	FontSize       int
	ScreenWidth    int
	ScreenHeight   int
	ScaleFactor    float32
	Fullscreen     bool
	VSync          bool
	LeftKey        string
	RightKey       string
	Timing         Timing
	GazeDotStages  []Stage
	BGColor        sdl.Color
	TextColor      sdl.Color
	FixationColor  sdl.Color
	GazeDotColor   sdl.Color
}

func ParseColor(s string) sdl.Color {
	var r, g, b, a uint8
	fmt.Sscanf(s, "%d,%d,%d,%d", &r, &g, &b, &a)
	if a == 0 && s != "" && !strings.Contains(s, ",0") {
		a = 255
	}
	return sdl.Color{R: r, G: g, B: b, A: a}
}

func FormatColor(c sdl.Color) string {
	return fmt.Sprintf("%d,%d,%d,%d", c.R, c.G, c.B, c.A)
}

func ParseStage(s string) (Stage, error) {
	for _, st := range []Stage{StageBlank, StageFixation, StageDecision} {
		if strings.EqualFold(strings.TrimSpace(s), st.String()) {
			return st, nil
		}
	}
	return 0, goerr.New("unknown stage", goerr.Value("stage", s))
}

// ParseStages parses a comma separated stage list. An empty string is no stages.
func ParseStages(s string) ([]Stage, error) {
	var stages []Stage
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := ParseStage(part)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

const CacheFile = ".expegaze_cache"

func (cfg *Config) SaveCache() {
	f, err := os.Create(CacheFile)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "conditions_file=%s\n", cfg.ConditionsFile)
	fmt.Fprintf(f, "output_dir=%s\n", cfg.OutputDir)
	fmt.Fprintf(f, "store=%s\n", cfg.StorePath)
	fmt.Fprintf(f, "dlp=%s\n", cfg.DLPDevice)
	fmt.Fprintf(f, "tracker=%s\n", cfg.Tracker)
	fmt.Fprintf(f, "screen_w=%d\n", cfg.ScreenWidth)
	fmt.Fprintf(f, "screen_h=%d\n", cfg.ScreenHeight)
	if cfg.Fullscreen {
		fmt.Fprintf(f, "fullscreen=1\n")
	} else {
		fmt.Fprintf(f, "fullscreen=0\n")
	}
	fmt.Fprintf(f, "bg_color=%d,%d,%d\n", cfg.BGColor.R, cfg.BGColor.G, cfg.BGColor.B)
	fmt.Fprintf(f, "text_color=%d,%d,%d\n", cfg.TextColor.R, cfg.TextColor.G, cfg.TextColor.B)
	fmt.Fprintf(f, "fixation_color=%d,%d,%d\n", cfg.FixationColor.R, cfg.FixationColor.G, cfg.FixationColor.B)
}

func (cfg *Config) LoadCache() {
	data, err := os.ReadFile(CacheFile)
	if err != nil {
		return
	}

	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		val = strings.TrimSpace(val)

		switch key {
		case "conditions_file":
			cfg.ConditionsFile = val
		case "output_dir":
			cfg.OutputDir = val
		case "store":
			cfg.StorePath = val
		case "dlp":
			cfg.DLPDevice = val
		case "tracker":
			cfg.Tracker = val
		case "screen_w":
			fmt.Sscanf(val, "%d", &cfg.ScreenWidth)
		case "screen_h":
			fmt.Sscanf(val, "%d", &cfg.ScreenHeight)
		case "fullscreen":
			cfg.Fullscreen = (val != "0")
		case "bg_color":
			cfg.BGColor = ParseColor(val)
		case "text_color":
			cfg.TextColor = ParseColor(val)
		case "fixation_color":
			cfg.FixationColor = ParseColor(val)
		}
	}
}

// fileConfig is the YAML form of Config.
type fileConfig struct {
	SubjectID       string        `yaml:"subject_id"`
	Experiment      string        `yaml:"experiment"`
	Conditions      string        `yaml:"conditions"`
	OutputDir       string        `yaml:"output_dir"`
	Store           string        `yaml:"store"`
	StartSplash     string        `yaml:"start_splash"`
	EndSplash       string        `yaml:"end_splash"`
	Font            string        `yaml:"font"`
	FontSize        int           `yaml:"font_size"`
	DLP             string        `yaml:"dlp"`
	Tracker         string        `yaml:"tracker"`
	TrackerRate     int           `yaml:"tracker_rate"`
	TrackerTimeout  time.Duration `yaml:"tracker_timeout"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	Scale           float32       `yaml:"scale"`
	Fullscreen      bool          `yaml:"fullscreen"`
	VSync           bool          `yaml:"vsync"`
	LeftKey         string        `yaml:"left_key"`
	RightKey        string        `yaml:"right_key"`
	Blank           time.Duration `yaml:"blank"`
	Fixation        time.Duration `yaml:"fixation"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	Frame           time.Duration `yaml:"frame"`
	GazeDot         []string      `yaml:"gaze_dot"`
	BGColor         string        `yaml:"bg_color"`
	TextColor       string        `yaml:"text_color"`
	FixationColor   string        `yaml:"fixation_color"`
	GazeDotColor    string        `yaml:"gaze_dot_color"`
}

// LoadFile overlays the YAML session file at path onto cfg. Keys missing from the
// file keep their current value.
func (cfg *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.Value("path", path))
	}

	fc := fileConfig{
		SubjectID:       cfg.SubjectID,
		Experiment:      cfg.Experiment,
		Conditions:      cfg.ConditionsFile,
		OutputDir:       cfg.OutputDir,
		Store:           cfg.StorePath,
		StartSplash:     cfg.StartSplash,
		EndSplash:       cfg.EndSplash,
		Font:            cfg.FontFile,
		FontSize:        cfg.FontSize,
		DLP:             cfg.DLPDevice,
		Tracker:         cfg.Tracker,
		TrackerRate:     cfg.TrackerRate,
		TrackerTimeout:  cfg.TrackerTimeout,
		Width:           cfg.ScreenWidth,
		Height:          cfg.ScreenHeight,
		Scale:           cfg.ScaleFactor,
		Fullscreen:      cfg.Fullscreen,
		VSync:           cfg.VSync,
		LeftKey:         cfg.LeftKey,
		RightKey:        cfg.RightKey,
		Blank:           cfg.Timing.Blank,
		Fixation:        cfg.Timing.Fixation,
		ResponseTimeout: cfg.Timing.ResponseTimeout,
		Frame:           cfg.Timing.Frame,
		BGColor:         FormatColor(cfg.BGColor),
		TextColor:       FormatColor(cfg.TextColor),
		FixationColor:   FormatColor(cfg.FixationColor),
		GazeDotColor:    FormatColor(cfg.GazeDotColor),
	}
	for _, st := range cfg.GazeDotStages {
		fc.GazeDot = append(fc.GazeDot, st.String())
	}

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.Value("path", path))
	}

	stages := make([]Stage, 0, len(fc.GazeDot))
	for _, name := range fc.GazeDot {
		st, err := ParseStage(name)
		if err != nil {
			return goerr.Wrap(err, "invalid gaze_dot entry", goerr.Value("path", path))
		}
		stages = append(stages, st)
	}

	cfg.SubjectID = fc.SubjectID
	cfg.Experiment = fc.Experiment
	cfg.ConditionsFile = fc.Conditions
	cfg.OutputDir = fc.OutputDir
	cfg.StorePath = fc.Store
	cfg.StartSplash = fc.StartSplash
	cfg.EndSplash = fc.EndSplash
	cfg.FontFile = fc.Font
	cfg.FontSize = fc.FontSize
	cfg.DLPDevice = fc.DLP
	cfg.Tracker = fc.Tracker
	cfg.TrackerRate = fc.TrackerRate
	cfg.TrackerTimeout = fc.TrackerTimeout
	cfg.ScreenWidth = fc.Width
	cfg.ScreenHeight = fc.Height
	cfg.ScaleFactor = fc.Scale
	cfg.Fullscreen = fc.Fullscreen
	cfg.VSync = fc.VSync
	cfg.LeftKey = fc.LeftKey
	cfg.RightKey = fc.RightKey
	cfg.Timing = Timing{
		Blank:           fc.Blank,
		Fixation:        fc.Fixation,
		ResponseTimeout: fc.ResponseTimeout,
		Frame:           fc.Frame,
	}
	cfg.GazeDotStages = stages
	cfg.BGColor = ParseColor(fc.BGColor)
	cfg.TextColor = ParseColor(fc.TextColor)
	cfg.FixationColor = ParseColor(fc.FixationColor)
	cfg.GazeDotColor = ParseColor(fc.GazeDotColor)
	return nil
}

// Validate checks the settings a session cannot start without.
func (cfg *Config) Validate() error {
	if cfg.SubjectID == "" {
		return goerr.New("subject id is required")
	}
	if strings.ContainsAny(cfg.SubjectID, `/\`) {
		return goerr.New("subject id must not contain path separators", goerr.Value("subject_id", cfg.SubjectID))
	}
	if cfg.ConditionsFile == "" {
		return goerr.New("conditions file is required")
	}
	if cfg.Tracker != TrackerNone && cfg.Tracker != TrackerSim {
		return goerr.New("unknown tracker", goerr.Value("tracker", cfg.Tracker))
	}
	if cfg.LeftKey == "" || cfg.RightKey == "" {
		return goerr.New("left and right response keys are required")
	}
	if cfg.LeftKey == cfg.RightKey {
		return goerr.New("left and right response keys must differ", goerr.Value("key", cfg.LeftKey))
	}
	if cfg.TrackerTimeout < 0 {
		return goerr.New("tracker timeout must not be negative", goerr.Value("timeout", cfg.TrackerTimeout.String()))
	}
	if cfg.Timing.Blank < 0 || cfg.Timing.Fixation < 0 || cfg.Timing.ResponseTimeout < 0 {
		return goerr.New("stage durations must not be negative")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Experiment:     "gaze-decision",
		OutputDir:      ".",
		StorePath:      "recording.sqlite",
		Tracker:        TrackerSim,
		TrackerRate:    60,
		TrackerTimeout: gaze.DefaultStaleAfter,
		FontSize:       24,
		ScreenWidth:    1920,
		ScreenHeight:   1080,
		ScaleFactor:    1.0,
		VSync:          true,
		LeftKey:        "Left",
		RightKey:       "Right",
		Timing:         DefaultTiming(),
		BGColor:        sdl.Color{R: 0, G: 0, B: 0, A: 255},
		TextColor:      sdl.Color{R: 255, G: 255, B: 255, A: 255},
		FixationColor:  sdl.Color{R: 255, G: 255, B: 255, A: 255},
		GazeDotColor:   sdl.Color{R: 255, G: 0, B: 0, A: 255},
	}
}
