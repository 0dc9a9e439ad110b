package engine

import "time"

// TriggerCode is sent to the trigger channel at each stage entry. The values are
// read by downstream analysis tooling and must not change.
type TriggerCode int

const (
	TriggerBlank    TriggerCode = 1001
	TriggerFixation TriggerCode = 2001
	TriggerDecision TriggerCode = 3001
)

// Stage is one phase of a trial.
type Stage int

const (
	StageBlank Stage = iota
	StageFixation
	StageDecision
)

func (s Stage) String() string {
	switch s {
	case StageBlank:
		return "blank"
	case StageFixation:
		return "fixation"
	case StageDecision:
		return "decision"
	}
	return "unknown"
}

// Trigger returns the code emitted when the stage is entered.
func (s Stage) Trigger() TriggerCode {
	switch s {
	case StageFixation:
		return TriggerFixation
	case StageDecision:
		return TriggerDecision
	}
	return TriggerBlank
}

// Decision is the subject's choice on the decision screen.
type Decision string

const (
	DecisionLeft  Decision = "left"
	DecisionRight Decision = "right"
	DecisionNone  Decision = "none"
)

// OptionCount is the number of attributes describing each choice option.
const OptionCount = 6

// Options holds the attributes of one choice option.
type Options [OptionCount]string

// TrialSpec is the input of one trial.
type TrialSpec struct {
	Condition  string
	ItemNumber int
	Left       Options // c1..c6
	Right      Options // m1..m6
}

// TrialRecord is the logged outcome of one completed trial.
type TrialRecord struct {
	SubjectID  string
	Condition  string
	Decision   Decision
	Trigger    TriggerCode
	ItemNumber int
	Left       Options
	Right      Options

	// ReactionTime is measured from decision stage entry.
	ReactionTime time.Duration
	// ReactionTimeSinceDecisionStart is measured from the decision clock restart,
	// taken once the decision screen is up and its trigger sent.
	ReactionTimeSinceDecisionStart time.Duration
}

// Responded reports whether the subject made a choice before the deadline.
func (r TrialRecord) Responded() bool {
	return r.Decision == DecisionLeft || r.Decision == DecisionRight
}

// ScreenKind selects what the display draws.
type ScreenKind int

const (
	ScreenBlank ScreenKind = iota
	ScreenFixation
	ScreenDecision
)

// Screen is a full frame description handed to a Display.
type Screen struct {
	Kind  ScreenKind
	Left  Options
	Right Options

	// GazeDot, when set, draws a marker at a screen-centred pixel position (y up).
	GazeDot *GazePoint
}

// GazePoint is a screen-centred pixel position, y up.
type GazePoint struct {
	X, Y float64
}
