package store

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// BookkeepingColumns is the number of leading columns every event table carries
// for internal use (session_id, event_type, logged_time). Exports skip them.
const BookkeepingColumns = 3

// EventClass identifies a kind of recorded event.
type EventClass int

const (
	BinocularEyeSample EventClass = iota + 1
	Message
)

type classLayout struct {
	name    string
	table   string
	columns []string
	types   []string
}

var bookkeeping = []string{"session_id", "event_type", "logged_time"}
var bookkeepingTypes = []string{"TEXT NOT NULL", "TEXT NOT NULL", "REAL NOT NULL"}

var layouts = map[EventClass]classLayout{
	BinocularEyeSample: {
		name:  "BinocularEyeSampleEvent",
		table: "binocular_eye_samples",
		columns: []string{
			"time",
			"left_gaze_x", "left_gaze_y", "left_valid",
			"right_gaze_x", "right_gaze_y", "right_valid",
			"gaze_x", "gaze_y",
			"left_pupil", "left_pupil_valid",
			"right_pupil", "right_pupil_valid",
			"pupil",
		},
		types: []string{
			"REAL",
			"REAL", "REAL", "INTEGER",
			"REAL", "REAL", "INTEGER",
			"REAL", "REAL",
			"REAL", "INTEGER",
			"REAL", "INTEGER",
			"REAL",
		},
	},
	Message: {
		name:    "MessageEvent",
		table:   "messages",
		columns: []string{"time", "text"},
		types:   []string{"REAL", "TEXT"},
	},
}

var eventClasses = []EventClass{BinocularEyeSample, Message}

// AllEventClasses lists every class the store knows about.
func AllEventClasses() []EventClass {
	return append([]EventClass(nil), eventClasses...)
}

// ParseEventClass resolves a class by its name, case-insensitively.
func ParseEventClass(s string) (EventClass, error) {
	for _, c := range eventClasses {
		if strings.EqualFold(layouts[c].name, s) || strings.EqualFold(layouts[c].table, s) {
			return c, nil
		}
	}
	return 0, goerr.New("unknown event class", goerr.Value("name", s))
}

func (c EventClass) Valid() bool {
	_, ok := layouts[c]
	return ok
}

func (c EventClass) String() string {
	if l, ok := layouts[c]; ok {
		return l.name
	}
	return "UnknownEvent"
}

// Table is the SQL table holding rows of this class.
func (c EventClass) Table() string {
	return layouts[c].table
}

// Columns returns the full column list, bookkeeping prefix included.
func (c EventClass) Columns() []string {
	l := layouts[c]
	cols := make([]string, 0, len(bookkeeping)+len(l.columns))
	cols = append(cols, bookkeeping...)
	return append(cols, l.columns...)
}

func (c EventClass) createTable() string {
	l := layouts[c]
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS " + l.table + " (\n")
	for i, col := range bookkeeping {
		b.WriteString("\t" + col + " " + bookkeepingTypes[i] + ",\n")
	}
	for i, col := range l.columns {
		b.WriteString("\t" + col + " " + l.types[i])
		if i < len(l.columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// EventCursor iterates event rows once, front to back. It cannot be rewound.
type EventCursor struct {
	rows *sql.Rows
	cols []string
}

func newEventCursor(rows *sql.Rows, cols []string) *EventCursor {
	return &EventCursor{rows: rows, cols: cols}
}

// Columns returns the cursor's column names, bookkeeping prefix included.
func (c *EventCursor) Columns() []string {
	return c.cols
}

func (c *EventCursor) Next() bool {
	return c.rows.Next()
}

// Values scans the current row. Values are int64, float64, string, []byte or nil.
func (c *EventCursor) Values() ([]any, error) {
	vals := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, goerr.Wrap(err, "failed to scan event row")
	}
	return vals, nil
}

func (c *EventCursor) Err() error {
	return c.rows.Err()
}

func (c *EventCursor) Close() error {
	return c.rows.Close()
}

// SampleRow is one binocular gaze sample as stored.
type SampleRow struct {
	LoggedTime      float64
	Time            float64
	LeftX, LeftY    float64
	LeftValid       bool
	RightX, RightY  float64
	RightValid      bool
	X, Y            float64
	LeftPupil       float64
	LeftPupilValid  bool
	RightPupil      float64
	RightPupilValid bool
	Pupil           float64
}

// MessageRow is one text mark (trigger code, note) as stored.
type MessageRow struct {
	LoggedTime float64
	Time       float64
	Text       string
}

// AppendEvents writes samples and messages for a session in one transaction.
func (s *Store) AppendEvents(ctx context.Context, sessionID string, samples []SampleRow, messages []MessageRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if len(samples) > 0 {
		cols := BinocularEyeSample.Columns()
		stmt, err := tx.PrepareContext(ctx, insertStatement(BinocularEyeSample.Table(), cols))
		if err != nil {
			return goerr.Wrap(err, "failed to prepare sample insert")
		}
		defer stmt.Close()

		kind := BinocularEyeSample.String()
		for i, r := range samples {
			_, err := stmt.ExecContext(ctx,
				sessionID, kind, r.LoggedTime,
				nullFloat(r.Time),
				nullFloat(r.LeftX), nullFloat(r.LeftY), r.LeftValid,
				nullFloat(r.RightX), nullFloat(r.RightY), r.RightValid,
				nullFloat(r.X), nullFloat(r.Y),
				nullFloat(r.LeftPupil), r.LeftPupilValid,
				nullFloat(r.RightPupil), r.RightPupilValid,
				nullFloat(r.Pupil),
			)
			if err != nil {
				return goerr.Wrap(err, "failed to insert sample", goerr.Value("index", i))
			}
		}
	}

	if len(messages) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertStatement(Message.Table(), Message.Columns()))
		if err != nil {
			return goerr.Wrap(err, "failed to prepare message insert")
		}
		defer stmt.Close()

		kind := Message.String()
		for i, m := range messages {
			if _, err := stmt.ExecContext(ctx, sessionID, kind, m.LoggedTime, nullFloat(m.Time), m.Text); err != nil {
				return goerr.Wrap(err, "failed to insert message", goerr.Value("index", i))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit events", goerr.Value("session_id", sessionID))
	}
	return nil
}

func insertStatement(table string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return `INSERT INTO ` + table + ` (` + strings.Join(cols, ", ") + `) VALUES (` + marks + `)`
}

// NaN has no SQL representation; store it as NULL.
func nullFloat(f float64) any {
	if math.IsNaN(f) {
		return nil
	}
	return f
}
