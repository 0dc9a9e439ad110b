// Package export writes recorded sessions out of a recording store as
// tab-delimited text files, one file per session.
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"expegaze/store"
)

// ErrSelectionCancelled is returned when no event class or no session was chosen.
// It ends an export normally.
var ErrSelectionCancelled = errors.New("selection cancelled")

const (
	DefaultOutputDir     = "results"
	DefaultProgressEvery = 100
)

// Source is the read side of a recording store.
type Source interface {
	Sessions(ctx context.Context) ([]store.SessionInfo, error)
	EventClasses(ctx context.Context) ([]store.EventClass, error)
	Metadata(ctx context.Context, sessionID string) ([]store.Field, error)
	Events(ctx context.Context, class store.EventClass, sessionID string) (*store.EventCursor, error)
}

// Summary describes one exported file.
type Summary struct {
	Session     store.SessionInfo
	Class       store.EventClass
	Path        string
	RowsWritten int
	Elapsed     time.Duration
}

type Exporter struct {
	src           Source
	outputDir     string
	skipColumns   int
	progressEvery int
	logger        *slog.Logger
}

type Option func(*Exporter)

// WithOutputDir sets the directory files are written to.
func WithOutputDir(dir string) Option {
	return func(e *Exporter) { e.outputDir = dir }
}

// WithSkipColumns sets how many leading event columns are left out of the export.
func WithSkipColumns(n int) Option {
	return func(e *Exporter) { e.skipColumns = n }
}

// WithProgressEvery sets the row interval of progress log lines. Zero or less
// disables them.
func WithProgressEvery(n int) Option {
	return func(e *Exporter) { e.progressEvery = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

func New(src Source, opts ...Option) *Exporter {
	e := &Exporter{
		src:           src,
		outputDir:     DefaultOutputDir,
		skipColumns:   store.BookkeepingColumns,
		progressEvery: DefaultProgressEvery,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FileName returns the export file name of a session for class.
func FileName(session store.SessionInfo, class store.EventClass) string {
	switch class {
	case store.BinocularEyeSample:
		return session.Name + "_EyeSample.txt"
	case store.Message:
		return session.Name + "_Message.txt"
	}
	return session.Name + "_" + class.String() + ".txt"
}

// Run asks sel for an event class and a set of sessions, then exports each chosen
// session in turn. It stops at the first failing session.
func (e *Exporter) Run(ctx context.Context, sel Selector) ([]Summary, error) {
	classes, err := e.src.EventClasses(ctx)
	if err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, goerr.Wrap(ErrSelectionCancelled, "store holds no events")
	}

	class, err := sel.SelectClass(ctx, classes)
	if err != nil {
		return nil, err
	}

	sessions, err := e.src.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	chosen, err := sel.SelectSessions(ctx, sessions)
	if err != nil {
		return nil, err
	}
	if len(chosen) == 0 {
		return nil, goerr.Wrap(ErrSelectionCancelled, "no session selected")
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create results directory", goerr.Value("dir", e.outputDir))
	}

	summaries := make([]Summary, 0, len(chosen))
	for _, session := range chosen {
		sum, err := e.ExportSession(ctx, class, session)
		if err != nil {
			return summaries, err
		}
		e.logger.Info("session exported",
			slog.String("session", session.Name),
			slog.String("path", sum.Path),
			slog.Int("rows", sum.RowsWritten),
			slog.Duration("elapsed", sum.Elapsed),
		)
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// ExportSession writes the class events of one session. The file is flushed and
// closed before it returns, also on failure.
func (e *Exporter) ExportSession(ctx context.Context, class store.EventClass, session store.SessionInfo) (sum Summary, err error) {
	start := time.Now()
	sum = Summary{Session: session, Class: class}

	meta, err := e.src.Metadata(ctx, session.ID)
	if err != nil {
		return sum, err
	}

	cur, err := e.src.Events(ctx, class, session.ID)
	if err != nil {
		return sum, err
	}
	defer cur.Close()

	cols := cur.Columns()
	if e.skipColumns < 0 || e.skipColumns > len(cols) {
		return sum, goerr.New("skip count exceeds event columns",
			goerr.Value("skip", e.skipColumns),
			goerr.Value("columns", len(cols)),
		)
	}

	sum.Path = filepath.Join(e.outputDir, FileName(session, class))
	f, err := os.Create(sum.Path)
	if err != nil {
		return sum, goerr.Wrap(err, "failed to create export file", goerr.Value("path", sum.Path))
	}
	w := bufio.NewWriter(f)
	defer func() {
		flushErr := w.Flush()
		closeErr := f.Close()
		if err == nil && (flushErr != nil || closeErr != nil) {
			err = goerr.Wrap(errors.Join(flushErr, closeErr), "failed to finish export file", goerr.Value("path", sum.Path))
		}
		sum.Elapsed = time.Since(start)
	}()

	header := make([]string, 0, len(meta)+len(cols)-e.skipColumns)
	prefix := make([]string, 0, len(meta))
	for _, m := range meta {
		header = append(header, m.Name)
		prefix = append(prefix, formatValue(m.Value))
	}
	header = append(header, cols[e.skipColumns:]...)
	if err := writeLine(w, header); err != nil {
		return sum, goerr.Wrap(err, "failed to write header", goerr.Value("path", sum.Path))
	}

	line := make([]string, len(header))
	copy(line, prefix)
	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return sum, goerr.Wrap(err, "export interrupted",
				goerr.Value("path", sum.Path),
				goerr.Value("rows", sum.RowsWritten),
			)
		}
		vals, err := cur.Values()
		if err != nil {
			return sum, err
		}
		for i, v := range vals[e.skipColumns:] {
			line[len(prefix)+i] = formatValue(v)
		}
		if err := writeLine(w, line); err != nil {
			return sum, goerr.Wrap(err, "failed to write row",
				goerr.Value("path", sum.Path),
				goerr.Value("row", sum.RowsWritten+1),
			)
		}
		sum.RowsWritten++

		if e.progressEvery > 0 && sum.RowsWritten%e.progressEvery == 0 {
			e.logger.Info("export progress",
				slog.String("session", session.Name),
				slog.Int("rows", sum.RowsWritten),
			)
		}
	}
	if err := cur.Err(); err != nil {
		return sum, goerr.Wrap(err, "failed to iterate events", goerr.Value("session_id", session.ID))
	}
	return sum, nil
}

func writeLine(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(f); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// formatValue renders a stored value so it can be read back unchanged. Text that
// would break the line structure is Go-quoted.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return quoteText(x)
	case []byte:
		return quoteText(string(x))
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return quoteText(fmt.Sprint(v))
}

func quoteText(s string) string {
	if strings.ContainsAny(s, "\t\r\n") {
		return strconv.Quote(s)
	}
	return s
}
