package dispatch

import (
	"strings"
)

// State is the lifecycle of one Line.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateAborted
	StateHalted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateAborted || s == StateHalted
}

// Line is one input line split into sub-commands. Its output buffer is
// owned by the slot running it and handed to the sink once finished.
type Line struct {
	Seq      uint64
	Text     string
	Commands []string

	state  State
	output []string
}

// ParseLine builds a pending Line from raw input. ok is false when the
// input holds no sub-commands.
func ParseLine(seq uint64, raw string) (*Line, bool) {
	text := strings.TrimRight(raw, "\r\n")
	cmds := SplitCommands(text)
	if len(cmds) == 0 {
		return nil, false
	}
	return &Line{Seq: seq, Text: text, Commands: cmds}, true
}

func (l *Line) State() State { return l.state }

// Output returns the buffered stdout lines. Empty while the line runs.
func (l *Line) Output() []string {
	if !l.state.Finished() {
		return nil
	}
	return l.output
}

// SplitCommands splits text on `;` outside single quotes, double quotes
// and backslash escapes. Segments are trimmed and empty ones dropped.
// Quotes and escapes are kept in the text handed to the shell, and bytes
// are passed through untouched whether or not they are valid UTF-8.
func SplitCommands(text string) []string {
	var (
		cmds    []string
		start   int
		single  bool
		double  bool
		escaped bool
	)
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			cmds = append(cmds, s)
		}
		start = end + 1
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && !single:
			escaped = true
		case c == '\'' && !double:
			single = !single
		case c == '"' && !single:
			double = !double
		case c == ';' && !single && !double:
			flush(i)
		}
	}
	if start <= len(text) {
		flush(len(text))
	}
	return cmds
}
