package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"expegaze/store"
)

// Selector chooses what an Exporter writes. Declining returns ErrSelectionCancelled.
type Selector interface {
	SelectClass(ctx context.Context, classes []store.EventClass) (store.EventClass, error)
	SelectSessions(ctx context.Context, sessions []store.SessionInfo) ([]store.SessionInfo, error)
}

// FixedSelector makes the choice up front, from command line flags.
type FixedSelector struct {
	// Class defaults to BinocularEyeSample.
	Class store.EventClass
	// Sessions holds session ids or names. Empty selects every session.
	Sessions []string
}

func (s FixedSelector) SelectClass(_ context.Context, classes []store.EventClass) (store.EventClass, error) {
	want := s.Class
	if want == 0 {
		want = store.BinocularEyeSample
	}
	if !slices.Contains(classes, want) {
		return 0, goerr.Wrap(ErrSelectionCancelled, "event class not recorded", goerr.Value("class", want.String()))
	}
	return want, nil
}

func (s FixedSelector) SelectSessions(_ context.Context, sessions []store.SessionInfo) ([]store.SessionInfo, error) {
	if len(s.Sessions) == 0 {
		return sessions, nil
	}

	var chosen []store.SessionInfo
	for _, key := range s.Sessions {
		i := slices.IndexFunc(sessions, func(info store.SessionInfo) bool {
			return info.ID == key || info.Name == key
		})
		if i < 0 {
			return nil, goerr.Wrap(store.ErrSessionNotFound, "unknown session", goerr.Value("session", key))
		}
		chosen = append(chosen, sessions[i])
	}
	return chosen, nil
}

// PromptSelector asks on a terminal. An empty answer cancels.
type PromptSelector struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPromptSelector(in io.Reader, out io.Writer) *PromptSelector {
	return &PromptSelector{in: bufio.NewReader(in), out: out}
}

func (p *PromptSelector) SelectClass(_ context.Context, classes []store.EventClass) (store.EventClass, error) {
	fmt.Fprintln(p.out, "Event classes:")
	for i, c := range classes {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, c)
	}
	fmt.Fprint(p.out, "Select event class: ")

	answer, err := p.readLine()
	if err != nil {
		return 0, err
	}
	if answer == "" {
		return 0, goerr.Wrap(ErrSelectionCancelled, "no event class selected")
	}

	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(classes) {
		return classes[n-1], nil
	}
	if c, err := store.ParseEventClass(answer); err == nil && slices.Contains(classes, c) {
		return c, nil
	}
	return 0, goerr.Wrap(ErrSelectionCancelled, "invalid event class", goerr.Value("answer", answer))
}

// SelectSessions accepts a comma separated list of numbers, or "all".
func (p *PromptSelector) SelectSessions(_ context.Context, sessions []store.SessionInfo) ([]store.SessionInfo, error) {
	fmt.Fprintln(p.out, "Sessions:")
	for i, s := range sessions {
		fmt.Fprintf(p.out, "  %d) %s (%s)\n", i+1, s.Name, s.Experiment)
	}
	fmt.Fprint(p.out, "Select sessions (e.g. 1,3 or all): ")

	answer, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if answer == "" {
		return nil, goerr.Wrap(ErrSelectionCancelled, "no session selected")
	}
	if strings.EqualFold(answer, "all") {
		return sessions, nil
	}

	var chosen []store.SessionInfo
	for _, part := range strings.Split(answer, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > len(sessions) {
			return nil, goerr.Wrap(ErrSelectionCancelled, "invalid session choice", goerr.Value("answer", part))
		}
		chosen = append(chosen, sessions[n-1])
	}
	return chosen, nil
}

func (p *PromptSelector) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", goerr.Wrap(err, "failed to read answer")
	}
	return strings.TrimSpace(line), nil
}
