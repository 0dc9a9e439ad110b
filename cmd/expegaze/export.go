package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"expegaze/export"
	"expegaze/store"
)

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export recorded sessions as tab-delimited text",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Value:   "recording.sqlite",
				Sources: cli.EnvVars("EXPEGAZE_STORE"),
				Usage:   "Recording store file",
			},
			&cli.StringFlag{
				Name:    "results",
				Value:   export.DefaultOutputDir,
				Sources: cli.EnvVars("EXPEGAZE_RESULTS_DIR"),
				Usage:   "Directory exported files are written to",
			},
			&cli.StringFlag{
				Name:  "class",
				Value: store.BinocularEyeSample.String(),
				Usage: "Event class to export",
			},
			&cli.StringSliceFlag{
				Name:  "session",
				Usage: "Session id or name to export, repeatable. Default is every session",
			},
			&cli.BoolFlag{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "Choose the event class and sessions at a prompt",
			},
			&cli.IntFlag{
				Name:  "skip-columns",
				Value: store.BookkeepingColumns,
				Usage: "Leading store columns left out of the export",
			},
			&cli.IntFlag{
				Name:  "progress-every",
				Value: export.DefaultProgressEvery,
				Usage: "Log progress every N rows",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := store.Open(cmd.String("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			var sel export.Selector
			if cmd.Bool("interactive") {
				sel = export.NewPromptSelector(os.Stdin, cmd.Root().Writer)
			} else {
				class, err := store.ParseEventClass(cmd.String("class"))
				if err != nil {
					return err
				}
				sel = export.FixedSelector{Class: class, Sessions: cmd.StringSlice("session")}
			}

			ex := export.New(st,
				export.WithOutputDir(cmd.String("results")),
				export.WithSkipColumns(cmd.Int("skip-columns")),
				export.WithProgressEvery(cmd.Int("progress-every")),
				export.WithLogger(slog.Default()),
			)
			sums, err := ex.Run(ctx, sel)
			for _, s := range sums {
				fmt.Fprintf(cmd.Root().Writer, "%s\t%d rows\t%.2fs\n", s.Path, s.RowsWritten, s.Elapsed.Seconds())
			}
			return err
		},
	}
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert an eyetracking TSV file to CSV, writing -88 for nan",
		ArgsUsage: "<input.tsv> [output.csv]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			in := cmd.Args().Get(0)
			if in == "" {
				return goerr.New("input file is required")
			}
			out := cmd.Args().Get(1)
			if out == "" {
				out = convertedName(in)
			}
			if sameFile(in, out) {
				return goerr.New("output would overwrite input",
					goerr.Value("input", in), goerr.Value("output", out))
			}

			r, err := os.Open(in)
			if err != nil {
				return goerr.Wrap(err, "failed to open input", goerr.Value("path", in))
			}
			defer r.Close()

			w, err := os.Create(out)
			if err != nil {
				return goerr.Wrap(err, "failed to create output", goerr.Value("path", out))
			}

			n, err := export.ConvertTSV(r, w)
			if closeErr := w.Close(); err == nil && closeErr != nil {
				err = goerr.Wrap(closeErr, "failed to close output", goerr.Value("path", out))
			}
			if err != nil {
				return err
			}

			slog.Info("converted", slog.String("input", in), slog.String("output", out), slog.Int("records", n))
			return nil
		},
	}
}

// convertedName swaps the extension of in for .csv, adding a _converted suffix when
// in already is a CSV file.
func convertedName(in string) string {
	base := strings.TrimSuffix(in, filepath.Ext(in))
	if strings.EqualFold(filepath.Ext(in), ".csv") {
		return base + "_converted.csv"
	}
	return base + ".csv"
}

func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}
