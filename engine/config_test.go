package engine_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zyko0/go-sdl3/sdl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expegaze/engine"
)

func TestParseColor(t *testing.T) {
	assert.Equal(t, sdl.Color{R: 10, G: 20, B: 30, A: 255}, engine.ParseColor("10,20,30"))
	assert.Equal(t, sdl.Color{R: 10, G: 20, B: 30, A: 128}, engine.ParseColor("10,20,30,128"))
	assert.Equal(t, "1,2,3,4", engine.FormatColor(sdl.Color{R: 1, G: 2, B: 3, A: 4}))
}

func TestParseStages(t *testing.T) {
	stages, err := engine.ParseStages("fixation, Decision")
	require.NoError(t, err)
	assert.Equal(t, []engine.Stage{engine.StageFixation, engine.StageDecision}, stages)

	stages, err = engine.ParseStages("")
	require.NoError(t, err)
	assert.Empty(t, stages)

	_, err = engine.ParseStages("blank,feedback")
	assert.Error(t, err)
}

func TestStageTriggers(t *testing.T) {
	assert.Equal(t, engine.TriggerBlank, engine.StageBlank.Trigger())
	assert.Equal(t, engine.TriggerFixation, engine.StageFixation.Trigger())
	assert.Equal(t, engine.TriggerDecision, engine.StageDecision.Trigger())
	assert.Equal(t, 1001, int(engine.TriggerBlank))
	assert.Equal(t, 2001, int(engine.TriggerFixation))
	assert.Equal(t, 3001, int(engine.TriggerDecision))
}

func TestConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	data := `subject_id: S07
conditions: items.csv
tracker: none
width: 1280
height: 720
blank: 250ms
response_timeout: 4s
tracker_timeout: 1s
gaze_dot: [fixation, decision]
gaze_dot_color: 0,200,100
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg := engine.DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "S07", cfg.SubjectID)
	assert.Equal(t, "items.csv", cfg.ConditionsFile)
	assert.Equal(t, engine.TrackerNone, cfg.Tracker)
	assert.Equal(t, 1280, cfg.ScreenWidth)
	assert.Equal(t, 720, cfg.ScreenHeight)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.Blank)
	assert.Equal(t, 4*time.Second, cfg.Timing.ResponseTimeout)
	assert.Equal(t, time.Second, cfg.TrackerTimeout)
	assert.Equal(t, []engine.Stage{engine.StageFixation, engine.StageDecision}, cfg.GazeDotStages)
	assert.Equal(t, sdl.Color{G: 200, B: 100, A: 255}, cfg.GazeDotColor)

	// Keys not in the file keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.Fixation)
	assert.Equal(t, "Left", cfg.LeftKey)
	assert.Equal(t, "recording.sqlite", cfg.StorePath)
	assert.Equal(t, sdl.Color{R: 255, G: 255, B: 255, A: 255}, cfg.TextColor)

	require.NoError(t, cfg.Validate())
}

func TestConfigLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := engine.DefaultConfig()

	assert.Error(t, cfg.LoadFile(filepath.Join(dir, "missing.yaml")))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("gaze_dot: [sleep]\n"), 0o644))
	assert.Error(t, cfg.LoadFile(bad))
}

func TestConfigValidate(t *testing.T) {
	valid := func() *engine.Config {
		cfg := engine.DefaultConfig()
		cfg.SubjectID = "S01"
		cfg.ConditionsFile = "conditions.csv"
		return cfg
	}
	require.NoError(t, valid().Validate())

	testCases := []struct {
		name   string
		modify func(*engine.Config)
	}{
		{"no subject", func(c *engine.Config) { c.SubjectID = "" }},
		{"subject with separator", func(c *engine.Config) { c.SubjectID = "../S01" }},
		{"no conditions", func(c *engine.Config) { c.ConditionsFile = "" }},
		{"unknown tracker", func(c *engine.Config) { c.Tracker = "tobii" }},
		{"same keys", func(c *engine.Config) { c.RightKey = c.LeftKey }},
		{"missing key", func(c *engine.Config) { c.LeftKey = "" }},
		{"negative blank", func(c *engine.Config) { c.Timing.Blank = -time.Second }},
		{"negative tracker timeout", func(c *engine.Config) { c.TrackerTimeout = -time.Millisecond }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigCache(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := engine.DefaultConfig()
	cfg.ConditionsFile = "items.csv"
	cfg.DLPDevice = "/dev/ttyUSB0"
	cfg.Tracker = engine.TrackerNone
	cfg.Fullscreen = true
	cfg.BGColor = sdl.Color{R: 1, G: 2, B: 3, A: 255}
	cfg.SaveCache()

	loaded := engine.DefaultConfig()
	loaded.LoadCache()
	assert.Equal(t, "items.csv", loaded.ConditionsFile)
	assert.Equal(t, "/dev/ttyUSB0", loaded.DLPDevice)
	assert.Equal(t, engine.TrackerNone, loaded.Tracker)
	assert.True(t, loaded.Fullscreen)
	assert.Equal(t, cfg.BGColor, loaded.BGColor)
}

func TestOutputNames(t *testing.T) {
	ts := time.Date(2023, 11, 2, 9, 5, 3, 0, time.Local)
	assert.Equal(t, "S01_decision_output_20231102-090503.csv", engine.DecisionLogName("S01", ts))
	assert.Equal(t, "S01_eyetracking_output_20231102-090503.tsv", engine.EyetrackingLogName("S01", ts))
}
