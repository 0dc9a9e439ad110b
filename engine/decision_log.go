package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TimestampLayout is the local-time suffix of output file names.
const TimestampLayout = "20060102-150405"

// DecisionHeader is the header line of the decision output file.
var DecisionHeader = []string{
	"Subject_id", "Condition", "Decision", "Trigger", "Item number",
	"c1", "c2", "c3", "c4", "c5", "c6",
	"m1", "m2", "m3", "m4", "m5", "m6",
	"Reaction time", "Reaction time since decision screen start",
}

// DecisionLogName returns <subject>_decision_output_<localtime>.csv.
func DecisionLogName(subjectID string, t time.Time) string {
	return subjectID + "_decision_output_" + t.Format(TimestampLayout) + ".csv"
}

// EyetrackingLogName returns <subject>_eyetracking_output_<localtime>.tsv.
func EyetrackingLogName(subjectID string, t time.Time) string {
	return subjectID + "_eyetracking_output_" + t.Format(TimestampLayout) + ".tsv"
}

// DecisionLog appends one CSV row per completed trial. Every row is flushed as it
// is written so an aborted session keeps all completed trials.
type DecisionLog struct {
	c    io.Closer
	w    *csv.Writer
	path string
	rows int
}

// CreateDecisionLog creates the decision output file for subjectID in dir. An
// existing file is never overwritten.
func CreateDecisionLog(dir, subjectID string, now time.Time) (*DecisionLog, error) {
	path := filepath.Join(dir, DecisionLogName(subjectID, now))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, goerr.Wrap(fmt.Errorf("%w: %w", ErrIO, err), "failed to create decision output", goerr.Value("path", path))
	}

	l, err := NewDecisionLog(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.c = f
	l.path = path
	return l, nil
}

// NewDecisionLog writes the header to w and returns a log appending to it.
func NewDecisionLog(w io.Writer) (*DecisionLog, error) {
	l := &DecisionLog{w: csv.NewWriter(w)}
	if err := l.write(DecisionHeader); err != nil {
		return nil, goerr.Wrap(err, "failed to write decision header")
	}
	return l, nil
}

func (l *DecisionLog) write(fields []string) error {
	if err := l.w.Write(fields); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Append writes one trial record.
func (l *DecisionLog) Append(r TrialRecord) error {
	if err := l.write(recordFields(r)); err != nil {
		return goerr.Wrap(err, "failed to append trial",
			goerr.Value("path", l.path),
			goerr.Value("item", r.ItemNumber),
		)
	}
	l.rows++
	return nil
}

// Rows is the number of trial rows written so far.
func (l *DecisionLog) Rows() int { return l.rows }

// Path is the file path, empty for logs not backed by a file.
func (l *DecisionLog) Path() string { return l.path }

func (l *DecisionLog) Close() error {
	l.w.Flush()
	if l.c == nil {
		return l.w.Error()
	}
	return l.c.Close()
}

func recordFields(r TrialRecord) []string {
	fields := make([]string, 0, len(DecisionHeader))
	fields = append(fields,
		r.SubjectID,
		r.Condition,
		string(r.Decision),
		strconv.Itoa(int(r.Trigger)),
		strconv.Itoa(r.ItemNumber),
	)
	fields = append(fields, r.Left[:]...)
	fields = append(fields, r.Right[:]...)
	if r.Responded() {
		fields = append(fields, seconds(r.ReactionTime), seconds(r.ReactionTimeSinceDecisionStart))
	} else {
		fields = append(fields, "", "")
	}
	return fields
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
