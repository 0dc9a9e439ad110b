package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expegaze/engine"
	"expegaze/export"
	"expegaze/store"
)

func TestExitCode(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{fmt.Errorf("wrapped: %w", engine.ErrUserCancelled), 2},
		{export.ErrSelectionCancelled, 2},
		{fmt.Errorf("export: %w", context.Canceled), 2},
		{fmt.Errorf("open: %w", store.ErrStoreNotFound), 3},
		{engine.ErrDeviceUnavailable, 1},
		{errors.New("other"), 1},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, exitCode(tc.err), "%v", tc.err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestRunConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlPath := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("subject_id: S07\nconditions: items.csv\nwidth: 1280\nheight: 720\n"), 0o644))
	t.Setenv("EXPEGAZE_WIDTH", "1600")

	var got *engine.Config
	runner := func(_ context.Context, cfg *engine.Config, _ *slog.Logger) error {
		got = cfg
		return nil
	}

	app := newApp(runner)
	err := app.Run(context.Background(), []string{
		"expegaze", "run",
		"--config", yamlPath,
		"--subject", "S09",
		"--tracker", "none",
		"--response-timeout", "3s",
		"--tracker-timeout", "750ms",
		"--gaze-dot", "decision",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "S09", got.SubjectID)
	assert.Equal(t, "items.csv", got.ConditionsFile)
	assert.Equal(t, 1600, got.ScreenWidth)
	assert.Equal(t, 720, got.ScreenHeight)
	assert.Equal(t, engine.TrackerNone, got.Tracker)
	assert.Equal(t, 3*time.Second, got.Timing.ResponseTimeout)
	assert.Equal(t, 750*time.Millisecond, got.TrackerTimeout)
	assert.Equal(t, []engine.Stage{engine.StageDecision}, got.GazeDotStages)

	_, err = os.Stat(filepath.Join(dir, engine.CacheFile))
	assert.NoError(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	called := false
	runner := func(context.Context, *engine.Config, *slog.Logger) error {
		called = true
		return nil
	}
	err := newApp(runner).Run(context.Background(), []string{"expegaze", "run", "--no-cache"})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestExportCommandMissingStore(t *testing.T) {
	dir := t.TempDir()
	err := newApp(nil).Run(context.Background(), []string{
		"expegaze", "export", "--store", filepath.Join(dir, "absent.sqlite"),
	})
	assert.Equal(t, 3, exitCode(err))
}

func TestExportCommand(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.sqlite")

	st, err := store.Create(path)
	require.NoError(t, err)
	info := store.NewSessionInfo("S01", "gaze-decision", time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, st.CreateSession(ctx, info))
	require.NoError(t, st.AppendEvents(ctx, info.ID, []store.SampleRow{{Time: 0.5, X: 1, Y: 2}}, nil))
	require.NoError(t, st.Close())

	results := filepath.Join(dir, "results")
	app := newApp(nil)
	var out bytes.Buffer
	app.Writer = &out
	err = app.Run(ctx, []string{"expegaze", "export", "--store", path, "--results", results})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "1 rows")

	_, err = os.Stat(filepath.Join(results, "S01_20240301-093000_EyeSample.txt"))
	assert.NoError(t, err)

	err = newApp(nil).Run(ctx, []string{"expegaze", "export", "--store", path, "--class", "MessageEvent"})
	assert.Equal(t, 2, exitCode(err))
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "S01_eyetracking_output.tsv")
	require.NoError(t, os.WriteFile(in, []byte("TimeStamp\tGazePointX\n0.0\tnan\n"), 0o644))

	require.NoError(t, newApp(nil).Run(context.Background(), []string{"expegaze", "convert", in}))

	data, err := os.ReadFile(filepath.Join(dir, "S01_eyetracking_output.csv"))
	require.NoError(t, err)
	assert.Equal(t, "TimeStamp,GazePointX\n0.0,-88\n", string(data))

	assert.Error(t, newApp(nil).Run(context.Background(), []string{"expegaze", "convert"}))
}

func TestConvertKeepsCSVInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "gaze.csv")
	orig := []byte("TimeStamp\tGazePointX\n0.0\tnan\n")
	require.NoError(t, os.WriteFile(in, orig, 0o644))

	require.NoError(t, newApp(nil).Run(context.Background(), []string{"expegaze", "convert", in}))

	data, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, orig, data)

	data, err = os.ReadFile(filepath.Join(dir, "gaze_converted.csv"))
	require.NoError(t, err)
	assert.Equal(t, "TimeStamp,GazePointX\n0.0,-88\n", string(data))

	tsv := filepath.Join(dir, "gaze.tsv")
	require.NoError(t, os.WriteFile(tsv, orig, 0o644))
	err = newApp(nil).Run(context.Background(), []string{"expegaze", "convert", tsv, filepath.Join(dir, ".", "gaze.tsv")})
	assert.Error(t, err)
	data, err = os.ReadFile(tsv)
	require.NoError(t, err)
	assert.Equal(t, orig, data)
}
