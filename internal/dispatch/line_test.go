package dispatch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitCommands(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "echo 1; echo 2", want: []string{"echo 1", "echo 2"}},
		{in: "echo 3; true; echo 4;", want: []string{"echo 3", "true", "echo 4"}},
		{in: "echo 1;", want: []string{"echo 1"}},
		{in: " ;; ; ", want: nil},
		{in: "", want: nil},
		{in: `echo "cheeky; echo semicolon"`, want: []string{`echo "cheeky; echo semicolon"`}},
		{in: `echo 'a;b'; echo c`, want: []string{`echo 'a;b'`, "echo c"}},
		{in: `echo a\;b; echo c`, want: []string{`echo a\;b`, "echo c"}},
		{in: `echo "it's; fine"; echo ok`, want: []string{`echo "it's; fine"`, "echo ok"}},
		{in: `echo "can't see this"`, want: []string{`echo "can't see this"`}},
		{in: `echo "esc \" ; still"; x`, want: []string{`echo "esc \" ; still"`, "x"}},
		{in: "printf '\xff'; echo \xfe", want: []string{"printf '\xff'", "echo \xfe"}},
		{in: "echo caf\xc3\xa9;echo \\\xff;x", want: []string{"echo caf\xc3\xa9", "echo \\\xff", "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, SplitCommands(tc.in)); diff != "" {
				t.Fatalf("split mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLine(t *testing.T) {
	l, ok := ParseLine(7, "echo a; echo b\r\n")
	if !ok {
		t.Fatalf("expected a line")
	}
	if l.Seq != 7 || l.Text != "echo a; echo b" || l.State() != StatePending {
		t.Fatalf("unexpected line: %+v", l)
	}
	if diff := cmp.Diff([]string{"echo a", "echo b"}, l.Commands); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
	for _, raw := range []string{"\r", "\n", "  \t ", ";;"} {
		if _, ok := ParseLine(1, raw); ok {
			t.Fatalf("%q should not produce a line", raw)
		}
	}
}

func TestLineOutputHiddenWhileRunning(t *testing.T) {
	l, _ := ParseLine(1, "echo a")
	l.state = StateRunning
	l.output = append(l.output, "a")
	if out := l.Output(); out != nil {
		t.Fatalf("running line exposed output: %q", out)
	}
	l.state = StateAborted
	if diff := cmp.Diff([]string{"a"}, l.Output()); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StatePending:   "pending",
		StateRunning:   "running",
		StateCompleted: "completed",
		StateAborted:   "aborted",
		StateHalted:    "halted",
		State(99):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Fatalf("state %d: got %q want %q", s, got, want)
		}
	}
}
