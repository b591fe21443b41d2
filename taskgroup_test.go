package taskgroup

import (
	"context"
	"errors"
	"testing"
)

// recordingItem is the Go counterpart of the Java test fixture's
// StringTaskItem: a cold TaskItem that produces its own key as its
// result.
type recordingItem struct {
	key string
}

func (r *recordingItem) Prepare() {}

func (r *recordingItem) IsHot() bool { return false }

func (r *recordingItem) Result() string { return r.key }

func (r *recordingItem) InvokeAsync(*InvocationContext) <-chan Outcome[string] {
	ch := make(chan Outcome[string], 1)
	ch <- Outcome[string]{Value: r.key}
	close(ch)
	return ch
}

func newNode(key string) *TaskGroup[string, string] {
	return NewTaskGroup[string, string](key, &recordingItem{key: key}, TerminateOnInProgressCompletion)
}

// sampleTaskGroup builds the six-node shape shared by every scenario in
// the original Java test suite:
//
//	|------------------->vertex2------------|
//	|                                       |
//	|                                       v
//
// vertex6       ------->vertex3--------->vertex1
//
//	|            |                         ^
//	|            |                         |
//	|-------->vertex5                      |
//	             |                         |
//	             |                         |
//	             ------->vertex4------------|
//
// vertex6 is returned; it is always the invocation root.
func sampleTaskGroup(v1, v2, v3, v4, v5, v6 string) *TaskGroup[string, string] {
	g1 := newNode(v1)
	g2 := newNode(v2)
	g3 := newNode(v3)
	g4 := newNode(v4)
	g5 := newNode(v5)
	g6 := newNode(v6)

	mustAddDependency(g2, g1)
	mustAddDependency(g3, g1)
	mustAddDependency(g4, g1)
	mustAddDependency(g5, g3)
	mustAddDependency(g5, g4)
	mustAddDependency(g6, g2)
	mustAddDependency(g6, g5)

	return g6
}

func mustAddDependency(g, other *TaskGroup[string, string]) {
	if err := g.AddDependencyTaskGroup(other); err != nil {
		panic(err)
	}
}

func invoke(t *testing.T, group *TaskGroup[string, string]) ([]string, error) {
	t.Helper()
	driver := NewInvocationDriver(group)
	ch := driver.InvokeAsync(context.Background(), NewInvocationContext())
	var order []string
	var failure error
	for item := range ch {
		if item.Err != nil {
			failure = item.Err
			continue
		}
		order = append(order, item.Key)
	}
	return order, failure
}

// assertPrecedence fails the test the first time a key in shouldNotSee[k]
// has already completed by the time k completes -- i.e. k was supposed to
// precede it, literally porting the Java tests' running shouldNotSee /
// seen intersection check.
func assertPrecedence(t *testing.T, order []string, shouldNotSee map[string][]string) {
	t.Helper()
	seen := make(map[string]struct{}, len(order))
	for _, k := range order {
		for _, forbidden := range shouldNotSee[k] {
			if _, ok := seen[forbidden]; ok {
				t.Fatalf("key %q completed before %q, but %q must precede %q", forbidden, k, k, forbidden)
			}
		}
		seen[k] = struct{}{}
	}
}

func sampleShouldNotSee() map[string][]string {
	return map[string][]string{
		"A": {"B", "C", "D", "E", "F"},
		"B": {"F"},
		"C": {"E", "F"},
		"D": {"E", "F"},
		"E": {"F"},
		"F": {},
	}
}

// S1: testSampleTaskGroupSanity
func TestSampleTaskGroupSanity(t *testing.T) {
	group := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	order, err := invoke(t, group)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(order) != 6 {
		t.Fatalf("invoked %d entries, want 6: %v", len(order), order)
	}
	assertPrecedence(t, order, sampleShouldNotSee())
}

// S2a: testTaskGroupInvocationShouldNotInvokeDependentTaskGroup
func TestInvocationDoesNotInvokeDependentTaskGroup(t *testing.T) {
	group1 := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	group2 := sampleTaskGroup("G", "H", "I", "J", "K", "L")
	mustAddDependency(group2, group1)

	order, err := invoke(t, group1)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(order) != 6 {
		t.Fatalf("invoking the dependency alone visited %d entries, want 6: %v", len(order), order)
	}
	for _, k := range order {
		if k == "G" || k == "H" || k == "I" || k == "J" || k == "K" || k == "L" {
			t.Fatalf("invoking group1 must not invoke its dependent group2, saw %q", k)
		}
	}
}

// S2b: testTaskGroupInvocationShouldInvokeDependencyTaskGroup
func TestInvocationInvokesDependencyTaskGroup(t *testing.T) {
	group1 := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	group2 := sampleTaskGroup("G", "H", "I", "J", "K", "L")
	mustAddDependency(group2, group1)

	order, err := invoke(t, group2)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(order) != 12 {
		t.Fatalf("invoked %d entries, want 12: %v", len(order), order)
	}
	shouldNotSee := sampleShouldNotSee()
	shouldNotSee["A"] = append(shouldNotSee["A"], "G", "H", "I", "J", "K", "L")
	shouldNotSee["B"] = append(shouldNotSee["B"], "L")
	shouldNotSee["C"] = append(shouldNotSee["C"], "L")
	shouldNotSee["D"] = append(shouldNotSee["D"], "L")
	shouldNotSee["E"] = append(shouldNotSee["E"], "L")
	shouldNotSee["F"] = append(shouldNotSee["F"], "L")
	shouldNotSee["G"] = []string{"H", "I", "J", "K", "L"}
	shouldNotSee["H"] = []string{"L"}
	shouldNotSee["I"] = []string{"K", "L"}
	shouldNotSee["J"] = []string{"K", "L"}
	shouldNotSee["K"] = []string{"L"}
	shouldNotSee["L"] = []string{}
	assertPrecedence(t, order, shouldNotSee)
}

// S3: testTaskGroupInvocationShouldInvokePostRunDependentTaskGroup
func TestInvocationInvokesPostRunDependentTaskGroup(t *testing.T) {
	group1 := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	group2 := sampleTaskGroup("G", "H", "I", "J", "K", "L")
	if err := group1.AddPostRunDependentTaskGroup(group2); err != nil {
		t.Fatalf("AddPostRunDependentTaskGroup: %v", err)
	}

	order, err := invoke(t, group1)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(order) != 13 {
		t.Fatalf("invoked %d entries, want 13 (12 real + proxy-F): %v", len(order), order)
	}

	shouldNotSee := map[string][]string{
		"A": {"B", "C", "D", "E", "F", "proxy-F"},
		"B": {"F", "proxy-F"},
		"C": {"E", "F", "proxy-F"},
		"D": {"E", "F", "proxy-F"},
		"E": {"F", "proxy-F"},
		"F": {"proxy-F"},
		"G": {"H", "I", "J", "K", "L", "proxy-F"},
		"H": {"L", "proxy-F"},
		"I": {"K", "L", "proxy-F"},
		"J": {"K", "L", "proxy-F"},
		"K": {"L", "proxy-F"},
		"L": {"proxy-F"},
		"proxy-F": {},
	}
	assertPrecedence(t, order, shouldNotSee)

	found := false
	for _, k := range order {
		if k == "proxy-F" {
			found = true
		}
	}
	if !found {
		t.Fatalf("proxy-F never appeared in %v", order)
	}
}

// S4: testPostRunTaskGroupInvocationShouldInvokeDependencyTaskGroup --
// invoking the post-run dependent on its own still invokes it and its own
// dependencies, but never the group it was attached to nor that group's
// proxy (post-run attachment is a one-way relationship).
func TestPostRunDependentInvocationDoesNotInvokeItsHost(t *testing.T) {
	group1 := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	group2 := sampleTaskGroup("G", "H", "I", "J", "K", "L")
	if err := group1.AddPostRunDependentTaskGroup(group2); err != nil {
		t.Fatalf("AddPostRunDependentTaskGroup: %v", err)
	}

	order, err := invoke(t, group2)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(order) != 6 {
		t.Fatalf("invoked %d entries, want 6 (group2's own nodes only): %v", len(order), order)
	}
	for _, k := range order {
		if k == "A" || k == "F" || k == "proxy-F" {
			t.Fatalf("invoking the post-run dependent must not invoke its host, saw %q", k)
		}
	}
}

// S5: testParentReassignmentUponProxyTaskGroupActivation
func TestParentReassignmentUponProxyActivation(t *testing.T) {
	group1 := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	group2 := sampleTaskGroup("G", "H", "I", "J", "K", "L")
	mustAddDependency(group2, group1)

	if group1.ProxyTaskGroup() != nil {
		t.Fatalf("group1 should have no proxy before any post-run dependent is attached")
	}

	group3 := sampleTaskGroup("M", "N", "O", "P", "Q", "R")
	if err := group1.AddPostRunDependentTaskGroup(group3); err != nil {
		t.Fatalf("AddPostRunDependentTaskGroup: %v", err)
	}

	proxy := group1.ProxyTaskGroup()
	if proxy == nil {
		t.Fatalf("group1 should have an active proxy after a post-run dependent is attached")
	}
	if proxy.RootKey() != "proxy-F" {
		t.Fatalf("proxy root key = %q, want proxy-F", proxy.RootKey())
	}

	wantGroup1Parents := map[*TaskGroup[string, string]]struct{}{proxy: {}, group3: {}}
	if !sameParentSet(group1.ParentDAGs(), wantGroup1Parents) {
		t.Fatalf("group1.ParentDAGs() = %v, want {proxy, group3}", group1.ParentDAGs())
	}

	wantProxyParents := map[*TaskGroup[string, string]]struct{}{group2: {}}
	if !sameParentSet(proxy.ParentDAGs(), wantProxyParents) {
		t.Fatalf("proxy.ParentDAGs() = %v, want {group2}", proxy.ParentDAGs())
	}

	order, err := invoke(t, group2)
	if err != nil {
		t.Fatalf("invoke(group2): %v", err)
	}
	if len(order) != 19 {
		t.Fatalf("invoking group2 visited %d entries, want 19: %v", len(order), order)
	}
	assertPrecedence(t, order, map[string][]string{
		"A": {"B", "C", "D", "E", "F", "proxy-F", "L"},
		"B": {"F", "proxy-F", "L"},
		"C": {"E", "F", "proxy-F", "L"},
		"D": {"E", "F", "proxy-F", "L"},
		"E": {"F", "proxy-F", "L"},
		"F": {"proxy-F", "L"},
		"M": {"N", "O", "P", "Q", "R", "proxy-F", "L"},
		"N": {"R", "proxy-F", "L"},
		"O": {"Q", "R", "L"},
		"P": {"Q", "R", "proxy-F", "L"},
		"Q": {"R", "proxy-F", "L"},
		"R": {"proxy-F", "L"},
		"G": {"H", "I", "J", "K", "L"},
		"H": {"L"},
		"I": {"K", "L"},
		"J": {"K", "L"},
		"K": {"L"},
		"L": {},
		"proxy-F": {"L"},
	})

	order, err = invoke(t, proxy)
	if err != nil {
		t.Fatalf("invoke(proxy): %v", err)
	}
	if len(order) != 13 {
		t.Fatalf("invoking group1's proxy visited %d entries, want 13: %v", len(order), order)
	}
	for _, k := range order {
		if k == "G" || k == "H" || k == "I" || k == "J" || k == "K" || k == "L" {
			t.Fatalf("invoking group1's proxy must not invoke group2, saw %q", k)
		}
	}
	assertPrecedence(t, order, map[string][]string{
		"A": {"B", "C", "D", "E", "F", "proxy-F"},
		"B": {"F", "proxy-F"},
		"C": {"E", "F", "proxy-F"},
		"D": {"E", "F", "proxy-F"},
		"E": {"F", "proxy-F"},
		"F": {"proxy-F"},
		"M": {"N", "O", "P", "Q", "R", "proxy-F"},
		"N": {"R", "proxy-F"},
		"O": {"Q", "R"},
		"P": {"Q", "R", "proxy-F"},
		"Q": {"R", "proxy-F"},
		"R": {"proxy-F"},
		"proxy-F": {},
	})
}

// S6: testParentProxyReassignmentUponProxyTaskGroupActivation -- a group
// that already has its own active proxy is attached as a post-run
// dependent elsewhere; the new edge must land on its proxy root, and
// shouldNotSee ordering must thread proxy-X before proxy-F.
func TestParentProxyReassignmentUponProxyActivation(t *testing.T) {
	group1 := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	group2 := sampleTaskGroup("G", "H", "I", "J", "K", "L")
	mustAddDependency(group2, group1)

	group3 := sampleTaskGroup("M", "N", "O", "P", "Q", "R")
	if err := group1.AddPostRunDependentTaskGroup(group3); err != nil {
		t.Fatalf("group1.AddPostRunDependentTaskGroup(group3): %v", err)
	}

	group4 := sampleTaskGroup("S", "T", "U", "V", "W", "X")
	group5 := sampleTaskGroup("1", "2", "3", "4", "5", "6")
	if err := group4.AddPostRunDependentTaskGroup(group5); err != nil {
		t.Fatalf("group4.AddPostRunDependentTaskGroup(group5): %v", err)
	}
	if group4.ProxyTaskGroup() == nil {
		t.Fatalf("group4 should have its own active proxy before being attached elsewhere")
	}

	if err := group1.AddPostRunDependentTaskGroup(group4); err != nil {
		t.Fatalf("group1.AddPostRunDependentTaskGroup(group4): %v", err)
	}

	order, err := invoke(t, group1)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(order) != 26 {
		t.Fatalf("invoked %d entries, want 26: %v", len(order), order)
	}

	shouldNotSee := map[string][]string{
		"A": {"B", "C", "D", "E", "F", "proxy-F"},
		"B": {"F", "proxy-F"},
		"C": {"E", "F", "proxy-F"},
		"D": {"E", "F", "proxy-F"},
		"E": {"F", "proxy-F"},
		"F": {"proxy-F"},
		"M": {"N", "O", "P", "Q", "R", "proxy-F"},
		"N": {"R", "proxy-F"},
		"O": {"Q", "R", "proxy-F"},
		"P": {"Q", "R", "proxy-F"},
		"Q": {"R", "proxy-F"},
		"R": {"proxy-F"},
		"S": {"T", "U", "V", "W", "X", "proxy-X", "proxy-F"},
		"T": {"X", "proxy-X", "proxy-F"},
		"U": {"W", "X", "proxy-X", "proxy-F"},
		"V": {"W", "X", "proxy-X", "proxy-F"},
		"W": {"X", "proxy-X", "proxy-F"},
		"X": {"proxy-X", "proxy-F"},
		"1": {"2", "3", "4", "5", "6", "proxy-X", "proxy-F"},
		"2": {"6", "proxy-X", "proxy-F"},
		"3": {"5", "6", "proxy-X", "proxy-F"},
		"4": {"5", "6", "proxy-X", "proxy-F"},
		"5": {"6", "proxy-X", "proxy-F"},
		"6": {"proxy-X", "proxy-F"},
		"proxy-X": {"proxy-F"},
		"proxy-F": {},
	}
	assertPrecedence(t, order, shouldNotSee)
}

func sameParentSet(a, b map[*TaskGroup[string, string]]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Idempotent composition: adding the same dependency edge twice must not
// change the graph's shape (P5).
func TestAddDependencyTaskGroupIsIdempotent(t *testing.T) {
	group1 := newNode("A")
	group2 := newNode("B")
	mustAddDependency(group2, group1)
	if err := group2.AddDependencyTaskGroup(group1); err != nil {
		t.Fatalf("second AddDependencyTaskGroup: %v", err)
	}

	entry, ok := group1.DAG().Get("A")
	if !ok {
		t.Fatalf("A missing from DAG")
	}
	if got := len(entry.Dependents()); got != 1 {
		t.Fatalf("A has %d dependents, want 1", got)
	}
}

// Composing a cycle through TaskGroup-level composition is rejected.
func TestAddDependencyTaskGroupRejectsCycle(t *testing.T) {
	group1 := newNode("A")
	group2 := newNode("B")
	mustAddDependency(group2, group1)
	if err := group1.AddDependencyTaskGroup(group2); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("AddDependencyTaskGroup back-edge = %v, want ErrCycleDetected", err)
	}
}

// Mutating a composed graph once an invocation is underway must fail
// rather than race with the enumeration in progress.
func TestComposingDuringInvocationIsRejected(t *testing.T) {
	group := sampleTaskGroup("A", "B", "C", "D", "E", "F")
	group.DAG().invoking = true
	other := newNode("Z")
	if err := group.AddDependencyTaskGroup(other); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("AddDependencyTaskGroup while invoking = %v, want ErrInvalidState", err)
	}
}

// A faulted entry surfaces as a WorkItemFailure and stops further
// dispatch under TerminateOnInProgressCompletion.
func TestFailureTerminatesOnInProgressCompletion(t *testing.T) {
	boom := errors.New("boom")
	failing := &failingItem{key: "B", err: boom}

	g1 := newNode("A")
	g2 := NewTaskGroup[string, string]("B", failing, TerminateOnInProgressCompletion)
	mustAddDependency(g2, g1)
	g3 := newNode("C")
	mustAddDependency(g3, g2)

	driver := NewInvocationDriver(g3)
	ch := driver.InvokeAsync(context.Background(), NewInvocationContext())

	var gotFailure *WorkItemFailure[string]
	var succeeded []string
	for item := range ch {
		if item.Err != nil {
			if !errors.As(item.Err, &gotFailure) {
				t.Fatalf("err = %v, want *WorkItemFailure[string]", item.Err)
			}
			continue
		}
		succeeded = append(succeeded, item.Key)
	}

	if gotFailure == nil {
		t.Fatalf("expected a WorkItemFailure on the output stream")
	}
	if gotFailure.Key != "B" || !errors.Is(gotFailure.Cause, boom) {
		t.Fatalf("failure = %+v, want key B wrapping boom", gotFailure)
	}
	if len(succeeded) != 1 || succeeded[0] != "A" {
		t.Fatalf("succeeded = %v, want only A (C is blocked by B's failure)", succeeded)
	}
}

type failingItem struct {
	key string
	err error
}

func (f *failingItem) Prepare() {}

func (f *failingItem) IsHot() bool { return false }

func (f *failingItem) Result() string { return "" }

func (f *failingItem) InvokeAsync(*InvocationContext) <-chan Outcome[string] {
	ch := make(chan Outcome[string], 1)
	ch <- Outcome[string]{Err: f.err}
	close(ch)
	return ch
}
