package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pars/internal/testutil/scripted"
	"github.com/danmuck/pars/internal/testutil/testlog"
	"github.com/danmuck/pars/internal/transport"
	"github.com/google/go-cmp/cmp"
)

// unit is the wall time of `sleep 1` in scripted runs.
const unit = 150 * time.Millisecond

func localPool(n int) []*Slot {
	slots := make([]*Slot, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, &Slot{Kind: SlotLocal, Index: i, Transport: scripted.New(fmt.Sprintf("local-%d", i), unit)})
	}
	return slots
}

// remotePool builds one slot per thread for each target thread count,
// each with its own connection, the way transport.Open does.
func remotePool(threads ...int) []*Slot {
	var remotes []transport.Remote
	for h, n := range threads {
		target := transport.Target{Scheme: transport.SchemeTCP, Host: "localhost", Port: "7878", Threads: n}
		for i := 0; i < n; i++ {
			remotes = append(remotes, transport.Remote{
				Target:    target,
				Index:     i,
				Transport: scripted.New(fmt.Sprintf("remote-%d-%d", h, i), unit),
			})
		}
	}
	return RemoteSlots(remotes)
}

func input(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func runPool(t *testing.T, slots []*Slot, policy HaltPolicy, lines ...string) ([]string, Summary) {
	t.Helper()
	d, err := New(slots, policy)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	var out bytes.Buffer
	summary, err := d.Run(context.Background(), input(lines...), &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return transport.SplitLines(out.Bytes()), summary
}

type scenario struct {
	name   string
	slots  func() []*Slot
	policy HaltPolicy
	lines  []string
	want   []string
}

func runScenarios(t *testing.T, scenarios []scenario) {
	t.Helper()
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()
			testlog.Start(t)
			got, _ := runPool(t, sc.slots(), sc.policy, sc.lines...)
			if diff := cmp.Diff(sc.want, got); diff != "" {
				t.Fatalf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func oneToFive() []string { return []string{"1", "2", "3", "4", "5"} }

func TestSingleLocalSlot(t *testing.T) {
	one := func() []*Slot { return localPool(1) }
	runScenarios(t, []scenario{
		{
			name:  "simple output",
			slots: one,
			lines: []string{`echo "hello world"`, "echo foo", "echo bar", "\r"},
			want:  []string{"hello world", "foo", "bar"},
		},
		{
			name:  "no output",
			slots: one,
			lines: []string{"true"},
			want:  nil,
		},
		{
			name:  "some output",
			slots: one,
			lines: []string{"true", "echo 1", "true", "echo 2", "true", "echo 3", "true", "echo 4", "true", "echo 5", "true", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "error line and quoted semicolon",
			slots: one,
			lines: []string{
				`echo "hello"; echo "world"`,
				`echo "you can see this"; /bin/false; echo "can't see this"`,
				`echo "cheeky; echo semicolon"`,
				"\r",
			},
			want: []string{"hello", "world", "you can see this", "cheeky; echo semicolon"},
		},
		{
			name:  "multiple commands",
			slots: one,
			lines: []string{"echo 1; echo 2", "echo 3; true; echo 4;", "echo 5; true", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "commands ordering",
			slots: one,
			lines: []string{"sleep 1; echo 1", "echo 2", "echo 3", "echo 4", "echo 5", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "never termination",
			slots: one,
			lines: []string{"echo 1; false; echo 1", "echo 2; echo 3; echo 4; echo 5", "\r"},
			want:  oneToFive(),
		},
	})
}

func TestMultipleLocalSlots(t *testing.T) {
	pool := func(n int) func() []*Slot { return func() []*Slot { return localPool(n) } }
	runScenarios(t, []scenario{
		{
			name:  "simple two slots",
			slots: pool(2),
			lines: []string{"echo hello", "sleep 1", "echo world", "\r"},
			want:  []string{"hello", "world"},
		},
		{
			name:  "completion order",
			slots: pool(2),
			lines: []string{"sleep 1; echo hello", "echo world", "\r"},
			want:  []string{"world", "hello"},
		},
		{
			name:  "many lines at once",
			slots: pool(2),
			lines: []string{"echo 1;", "sleep 1; echo 5", "echo 2;", "echo 3;", "echo 4;", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "line output is buffered",
			slots: pool(2),
			lines: []string{"echo 3; sleep 2; echo 4; echo 5", "echo 1; echo 2", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "never keeps dispatching",
			slots: pool(2),
			lines: []string{"sleep 1; echo 4; echo 5", "echo 1; false; echo 1", "echo 2; echo 3", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "slot count is respected",
			slots: pool(4),
			lines: []string{"sleep 1; echo 1", "sleep 1.5; echo 3", "sleep 2; echo 4", "sleep 2.5; echo 5", "echo 2;", "\r"},
			want:  oneToFive(),
		},
	})
}

func TestHaltPolicies(t *testing.T) {
	two := func() []*Slot { return localPool(2) }
	runScenarios(t, []scenario{
		{
			name:   "lazy stops new lines",
			slots:  two,
			policy: HaltLazy,
			lines:  []string{"sleep 1; echo 4; echo 5", "echo 1; echo 2; echo 3", "false", "echo 1", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "lazy finishes running lines",
			slots:  two,
			policy: HaltLazy,
			lines:  []string{"sleep 1; echo 4; echo 5", "echo 1; echo 2; echo 3; false; echo 6; echo 7", "echo 1", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "eager halts running lines",
			slots:  two,
			policy: HaltEager,
			lines:  []string{"echo 5; sleep 1; echo 2", "echo 1; echo 2; echo 3; echo 4; false; echo 5", "echo 5", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "explicit never",
			slots:  two,
			policy: HaltNever,
			lines:  []string{"sleep 1; echo 4; echo 5", "echo 1; false; echo 1", "echo 2; echo 3", "\r"},
			want:   oneToFive(),
		},
	})
}

func TestSingleRemoteSlot(t *testing.T) {
	one := func() []*Slot { return remotePool(1) }
	failing := []string{"echo 1; echo 2; echo 3; false; echo foo", "false; echo bar", "echo 4; echo 5", "\r"}
	runScenarios(t, []scenario{
		{
			name:  "one line",
			slots: one,
			lines: []string{"echo 1; echo 2; echo 3", "\r"},
			want:  []string{"1", "2", "3"},
		},
		{
			name:  "several lines",
			slots: one,
			lines: []string{"echo 1; echo 2; echo 3", "echo 4; echo 5", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "never",
			slots: one,
			lines: failing,
			want:  oneToFive(),
		},
		{
			name:   "lazy",
			slots:  one,
			policy: HaltLazy,
			lines:  failing,
			want:   []string{"1", "2", "3"},
		},
		{
			name:   "eager behaves like lazy on one slot",
			slots:  one,
			policy: HaltEager,
			lines:  []string{"echo 1; echo 2; echo 3; false; echo foo", "false; echo bar", "\r"},
			want:   []string{"1", "2", "3"},
		},
	})
}

func TestOneRemoteManyThreads(t *testing.T) {
	pool := func(n int) func() []*Slot { return func() []*Slot { return remotePool(n) } }
	runScenarios(t, []scenario{
		{
			name:  "two threads",
			slots: pool(2),
			lines: []string{"echo 4; echo 5; sleep 1", "echo 1; echo 2; echo 3", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "three threads",
			slots: pool(3),
			lines: []string{"echo 5; sleep 2", "echo 4; sleep 1", "echo 1; echo 2; echo 3", "\r"},
			want:  oneToFive(),
		},
		{
			name:   "never",
			slots:  pool(3),
			policy: HaltNever,
			lines:  []string{"echo 4; sleep 1; false; echo foo", "false", "echo 1; echo 2; echo 3;", "echo 5; sleep 1.5", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "lazy",
			slots:  pool(2),
			policy: HaltLazy,
			lines:  []string{"echo 4; echo 5; sleep 1", "echo 1; echo 2; echo 3; false", "echo foobar", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "eager",
			slots:  pool(2),
			policy: HaltEager,
			lines:  []string{"echo 4; echo 5; sleep 1; echo hidden", "echo 1; echo 2; echo 3; false", "\r"},
			want:   oneToFive(),
		},
	})
}

func TestManyRemotes(t *testing.T) {
	twoSingles := func() []*Slot { return remotePool(1, 1) }
	runScenarios(t, []scenario{
		{
			name:  "two remotes",
			slots: twoSingles,
			lines: []string{"echo 4; echo 5; sleep 2", "echo 1; echo 2; echo 3", "\r"},
			want:  oneToFive(),
		},
		{
			name:  "remotes with errors",
			slots: twoSingles,
			lines: []string{"echo 4; sleep 1.5", "echo 1; echo 2; echo 3; false; echo foo", "echo 5; sleep 3", "\r"},
			want:  oneToFive(),
		},
		{
			name:   "never",
			slots:  twoSingles,
			policy: HaltNever,
			lines:  []string{"echo 4; sleep 1; false; echo foo", "false", "sleep 0.5; echo 1; echo 2; echo 3;", "echo 5; sleep 3", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "lazy",
			slots:  twoSingles,
			policy: HaltLazy,
			lines:  []string{"echo 4; echo 5; sleep 2", "sleep 1; echo 1; echo 2; echo 3; false", "echo foobar", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "eager",
			slots:  twoSingles,
			policy: HaltEager,
			lines:  []string{"echo 4; echo 5; sleep 2; echo hidden", "sleep 1; echo 1; echo 2; echo 3; false", "\r"},
			want:   oneToFive(),
		},
		{
			name:   "unequal thread counts balance by idle slot",
			slots:  func() []*Slot { return remotePool(1, 4) },
			policy: HaltEager,
			lines:  []string{"echo 2; sleep 1", "echo 3; sleep 2", "echo 4; sleep 3", "echo 5; sleep 4", "echo 1", "\r"},
			want:   oneToFive(),
		},
	})
}

func TestMixedLocalAndRemoteSlots(t *testing.T) {
	testlog.Start(t)

	slots := append(localPool(1), remotePool(1, 3)...)
	got, summary := runPool(t, slots, HaltNever,
		"sleep 2.5; echo 5",
		"sleep 2; echo 4",
		"sleep 1.5; echo 3",
		"sleep 1; echo 2",
		"echo 1",
	)
	if diff := cmp.Diff(oneToFive(), got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if summary.Completed != 5 || summary.Failed {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestEagerStartsNoSubCommandAfterFailure(t *testing.T) {
	testlog.Start(t)

	slow := scripted.New("slow", unit)
	fast := scripted.New("fast", unit)
	slots := []*Slot{
		{Kind: SlotLocal, Index: 0, Transport: slow},
		{Kind: SlotLocal, Index: 1, Transport: fast},
	}
	got, summary := runPool(t, slots, HaltEager,
		"echo a; sleep 1; echo never",
		"sleep 0.5; false",
		"echo unreachable",
	)
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	for _, tr := range []*scripted.Transport{slow, fast} {
		for _, call := range tr.Calls() {
			if call == "echo never" || call == "echo unreachable" {
				t.Fatalf("%s ran %q after failure", tr, call)
			}
		}
	}
	if !summary.Failed || summary.Aborted != 1 || summary.Halted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Discarded != 1 {
		t.Fatalf("expected the undispatched line to be discarded, got %+v", summary)
	}
}

func TestHaltedLineWithEmptyBufferEmitsNothing(t *testing.T) {
	testlog.Start(t)

	got, summary := runPool(t, localPool(2), HaltEager,
		"sleep 1; echo hidden",
		"false",
	)
	if len(got) != 0 {
		t.Fatalf("expected no output, got %q", got)
	}
	if summary.Halted != 1 || summary.Aborted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestSingleSlotPreservesSubmissionOrder(t *testing.T) {
	testlog.Start(t)

	var lines, want []string
	for i := 0; i < 50; i++ {
		lines = append(lines, fmt.Sprintf("echo %d", i))
		want = append(want, fmt.Sprint(i))
	}
	got, _ := runPool(t, localPool(1), HaltNever, lines...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestLineBlocksAreNeverInterleaved(t *testing.T) {
	testlog.Start(t)

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("echo %d-a; sleep 0.0%d; echo %d-b; echo %d-c", i, i%3, i, i))
	}
	got, _ := runPool(t, localPool(4), HaltNever, lines...)
	if len(got) != 60 {
		t.Fatalf("expected 60 lines, got %d", len(got))
	}
	for i := 0; i < len(got); i += 3 {
		id := strings.TrimSuffix(got[i], "-a")
		block := []string{id + "-a", id + "-b", id + "-c"}
		if diff := cmp.Diff(block, got[i:i+3]); diff != "" {
			t.Fatalf("interleaved block at %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestTransportFailureRetiresSlot(t *testing.T) {
	testlog.Start(t)

	a := scripted.New("a", unit)
	b := scripted.New("b", unit)
	a.BreakOn = "echo boom"
	b.BreakOn = "echo boom"
	slots := []*Slot{
		{Kind: SlotRemote, Target: "tcp://a:1/1", Transport: a},
		{Kind: SlotRemote, Target: "tcp://b:1/1", Transport: b},
	}
	got, summary := runPool(t, slots, HaltNever,
		"echo before; echo boom; echo after",
		"sleep 0.5; echo 1",
		"echo 2",
		"echo 3",
	)
	if diff := cmp.Diff([]string{"before", "1", "2", "3"}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if summary.Retired != 1 || !summary.Failed || summary.Aborted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	broken := a
	if !contains(a.Calls(), "echo boom") {
		broken = b
	}
	for _, call := range broken.Calls() {
		if call == "echo 2" || call == "echo 3" {
			t.Fatalf("retired slot received %q", call)
		}
	}
}

func TestMalformedLinesAreNoOps(t *testing.T) {
	testlog.Start(t)

	got, summary := runPool(t, localPool(1), HaltNever, "", ";", " ; ;; ", "\r", "echo ok")
	if diff := cmp.Diff([]string{"ok"}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if summary.Lines != 1 {
		t.Fatalf("expected one dispatched line, got %+v", summary)
	}
}

func TestRunWithRealShell(t *testing.T) {
	testlog.Start(t)

	got, summary := runPool(t, LocalSlots(1, transport.NewLocal("")), HaltNever,
		`echo "hello"; echo "world"`,
		`echo "you can see this"; /bin/false; echo "can't see this"`,
		`echo "cheeky; echo semicolon"`,
		"echo err 1>&2; echo out",
		"cat << EOF",
	)
	want := []string{"hello", "world", "you can see this", "cheeky; echo semicolon", "out"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if !summary.Failed {
		t.Fatalf("expected failure to be observed")
	}
}

func TestRealShellPassesRawBytes(t *testing.T) {
	testlog.Start(t)

	got, summary := runPool(t, LocalSlots(1, transport.NewLocal("")), HaltNever,
		`printf '\377\n'`,
		"echo \xfe; echo ok",
	)
	want := []string{"\xff", "\xfe", "ok"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if summary.Failed {
		t.Fatalf("unexpected failure")
	}
}

func TestRealShellCompletionOrder(t *testing.T) {
	testlog.Start(t)

	got, _ := runPool(t, LocalSlots(2, transport.NewLocal("")), HaltNever,
		"sleep 0.3; echo hello",
		"echo world",
	)
	if diff := cmp.Diff([]string{"world", "hello"}, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestNewRejectsEmptyPool(t *testing.T) {
	if _, err := New(nil, HaltNever); !errors.Is(err, ErrNoSlots) {
		t.Fatalf("expected ErrNoSlots, got %v", err)
	}
}

func TestNewNumbersSlotsInOrder(t *testing.T) {
	pool := append(localPool(2), remotePool(1)...)
	d, err := New(pool, HaltLazy)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if d.Policy() != HaltLazy {
		t.Fatalf("policy mismatch: %s", d.Policy())
	}
	var got []string
	for i, s := range d.Slots() {
		if s.ID != i {
			t.Fatalf("slot %s has id %d, want %d", s, s.ID, i)
		}
		got = append(got, s.Kind.String())
	}
	if diff := cmp.Diff([]string{"local", "local", "remote"}, got); diff != "" {
		t.Fatalf("pool mismatch (-want +got):\n%s", diff)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestRunReportsOutputFailure(t *testing.T) {
	testlog.Start(t)

	d, err := New(localPool(1), HaltNever)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	_, err = d.Run(context.Background(), input("echo 1", "echo 2", "echo 3"), failingWriter{})
	if !errors.Is(err, ErrWriteOutput) {
		t.Fatalf("expected ErrWriteOutput, got %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)

	d, err := New(localPool(1), HaltNever)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), unit/2)
	defer cancel()

	// Input stays open for the whole run.
	r, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx, r, &out)
		done <- err
	}()
	if _, err := w.Write([]byte("echo 1\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(10 * unit):
		t.Fatalf("run did not return after cancel")
	}
	if diff := cmp.Diff([]string{"1"}, transport.SplitLines(out.Bytes())); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}
