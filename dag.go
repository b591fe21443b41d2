package taskgroup

import "fmt"

// DAG is a mapping from key to Entry, shared by every TaskGroup that has
// been composed together (via AddDependencyTaskGroup or
// AddPostRunDependentTaskGroup). Composition never copies a graph: it
// unions the two TaskGroups onto the same underlying DAG object, so that
// the full transitive closure is reachable through plain map lookups.
//
// Sharing one object is not the same as enumerating all of it: a single
// DAG object routinely backs many TaskGroups with no dependency relation
// to each other (e.g. a dependency's dependent, or two siblings composed
// under an unrelated third group). PrepareForEnumeration therefore scopes
// every walk to the ancestor closure of one root -- every entry it
// depends on, transitively -- never the whole entries slice. GetNext,
// Done, ReportCompletion and ReportFailure all stay within that scope.
//
// The DAG is acyclic by construction: AddEdge rejects any edge that would
// introduce a cycle before touching any state, by searching forward from
// the edge's target for its source (see reaches).
type DAG[K ~string, R any] struct {
	entries []K // insertion order, for stable ready-queue seeding
	byKey   map[K]*Entry[K, R]

	readyQueue      []K
	inProgressCount int

	// scope is the set of keys reachable (transitively, through
	// dependencies) from the root passed to the most recent
	// PrepareForEnumeration call. GetNext/ReportCompletion/ReportFailure
	// never look outside it.
	scope map[K]struct{}

	// members is the set of TaskGroups currently backed by this DAG
	// object. When two DAGs are unioned, every member of the absorbed
	// DAG is repointed at the survivor.
	members map[*TaskGroup[K, R]]struct{}

	// invoking guards against graph mutation while an InvocationDriver
	// is actively enumerating this DAG (spec.md §9: "late graph mutation
	// under an active invocation ... return InvalidState").
	invoking bool
}

// NewDAG creates an empty DAG.
func NewDAG[K ~string, R any]() *DAG[K, R] {
	return &DAG[K, R]{
		byKey:   make(map[K]*Entry[K, R]),
		members: make(map[*TaskGroup[K, R]]struct{}),
	}
}

// Get returns the entry for key, if present.
func (d *DAG[K, R]) Get(key K) (*Entry[K, R], bool) {
	e, ok := d.byKey[key]
	return e, ok
}

// AddEntry inserts a new entry into the DAG. Returns ErrDuplicateKey if
// the key already exists, or ErrInvalidState if called while an
// invocation is in progress.
func (d *DAG[K, R]) AddEntry(e *Entry[K, R]) error {
	if d.invoking {
		return fmt.Errorf("taskgroup: add entry %v: %w", e.Key, ErrInvalidState)
	}
	if _, exists := d.byKey[e.Key]; exists {
		return fmt.Errorf("taskgroup: add entry %v: %w", e.Key, ErrDuplicateKey)
	}
	d.byKey[e.Key] = e
	d.entries = append(d.entries, e.Key)
	return nil
}

// AddEdge records that to depends on from: from must complete before to
// may be dispatched. It is idempotent -- adding the same edge twice has
// no further effect (P5) -- and rejects any edge that would introduce a
// cycle, leaving the graph unmodified on failure.
func (d *DAG[K, R]) AddEdge(from, to K) error {
	if d.invoking {
		return fmt.Errorf("taskgroup: add edge %v->%v: %w", from, to, ErrInvalidState)
	}
	fromEntry, ok := d.byKey[from]
	if !ok {
		return fmt.Errorf("taskgroup: add edge, from %v: %w", from, ErrUnknownKey)
	}
	toEntry, ok := d.byKey[to]
	if !ok {
		return fmt.Errorf("taskgroup: add edge, to %v: %w", to, ErrUnknownKey)
	}

	if _, exists := toEntry.dependencies[from]; exists {
		return nil // already wired; idempotent composition
	}

	if d.reaches(to, from) {
		return fmt.Errorf("taskgroup: add edge %v->%v: %w", from, to, ErrCycleDetected)
	}

	fromEntry.dependents[to] = struct{}{}
	toEntry.dependencies[from] = struct{}{}
	return nil
}

// RemoveEdge undoes a previously added edge. Used only by the proxy
// rewiring protocol (proxy.go) to detach a node's former parents before
// reattaching them to the proxy.
func (d *DAG[K, R]) RemoveEdge(from, to K) {
	if fromEntry, ok := d.byKey[from]; ok {
		delete(fromEntry.dependents, to)
	}
	if toEntry, ok := d.byKey[to]; ok {
		delete(toEntry.dependencies, from)
	}
}

// reaches reports whether to can reach target by following dependents
// edges forward. Used to detect that adding target->to would close a
// cycle back to target.
func (d *DAG[K, R]) reaches(to, target K) bool {
	if to == target {
		return true
	}
	visited := make(map[K]struct{})
	stack := []K{to}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		if cur == target {
			return true
		}
		entry, ok := d.byKey[cur]
		if !ok {
			continue
		}
		for next := range entry.dependents {
			stack = append(stack, next)
		}
	}
	return false
}

// PrepareForEnumeration computes the ancestor closure of root -- root
// itself plus every entry reachable by following dependencies backwards,
// transitively -- and confines this enumeration to it. Entries that
// happen to share this DAG object through unrelated composition but are
// not ancestors of root are left completely untouched: not reset, not
// seeded, not notified.
//
// Within the scope, every entry is reset to NotStarted, its
// pendingDependencyCount restored to the size of its (in-scope) dependency
// set, and the ready queue seeded with every zero-dependency entry in
// insertion order. Call this once before walking the DAG with GetNext.
func (d *DAG[K, R]) PrepareForEnumeration(root K) {
	scope := make(map[K]struct{})
	var visit func(k K)
	visit = func(k K) {
		if _, ok := scope[k]; ok {
			return
		}
		scope[k] = struct{}{}
		e, ok := d.byKey[k]
		if !ok {
			return
		}
		for dep := range e.dependencies {
			visit(dep)
		}
	}
	visit(root)
	d.scope = scope

	d.readyQueue = d.readyQueue[:0]
	d.inProgressCount = 0
	for _, key := range d.entries {
		if _, inScope := d.scope[key]; !inScope {
			continue
		}
		e := d.byKey[key]
		e.pendingDependencyCount = len(e.dependencies)
		e.state = NotStarted
	}
	for _, key := range d.entries {
		if _, inScope := d.scope[key]; !inScope {
			continue
		}
		e := d.byKey[key]
		if e.pendingDependencyCount == 0 {
			e.state = Ready
			d.readyQueue = append(d.readyQueue, key)
		}
	}
}

// GetNext dequeues one ready entry, marks it InProgress, and returns it.
// It returns (nil, false) whenever nothing is ready right now, which
// covers both "enumeration is complete" (see Done) and "everything ready
// has already been pulled, wait for an in-progress completion".
func (d *DAG[K, R]) GetNext() (*Entry[K, R], bool) {
	if len(d.readyQueue) == 0 {
		return nil, false
	}
	key := d.readyQueue[0]
	d.readyQueue = d.readyQueue[1:]
	e := d.byKey[key]
	e.state = InProgress
	d.inProgressCount++
	return e, true
}

// Done reports whether enumeration has nothing left to do: no ready
// entries queued and no in-progress entries outstanding.
func (d *DAG[K, R]) Done() bool {
	return len(d.readyQueue) == 0 && d.inProgressCount == 0
}

// ReportCompletion marks entry Succeeded and, for each of its dependents,
// decrements pendingDependencyCount; any dependent reaching zero is
// appended to the ready queue. The caller contract is to call this
// exactly once per entry returned by GetNext.
func (d *DAG[K, R]) ReportCompletion(entry *Entry[K, R]) error {
	if entry.state != InProgress {
		return fmt.Errorf("taskgroup: report completion for %v: %w", entry.Key, ErrInvalidState)
	}
	entry.state = Succeeded
	d.inProgressCount--
	for depKey := range entry.dependents {
		if _, inScope := d.scope[depKey]; !inScope {
			continue
		}
		dep, ok := d.byKey[depKey]
		if !ok {
			continue
		}
		dep.pendingDependencyCount--
		if dep.pendingDependencyCount == 0 {
			dep.state = Ready
			d.readyQueue = append(d.readyQueue, depKey)
		}
	}
	return nil
}

// ReportFailure marks entry Faulted and returns the set of keys
// transitively blocked by it (every entry reachable from it through
// dependents edges) -- entries that, under
// TerminateOnInProgressCompletion, will never become ready. The caller
// decides what to do with that set; DAG itself does not auto-fail
// anything downstream.
func (d *DAG[K, R]) ReportFailure(entry *Entry[K, R], _ error) ([]K, error) {
	if entry.state != InProgress {
		return nil, fmt.Errorf("taskgroup: report failure for %v: %w", entry.Key, ErrInvalidState)
	}
	entry.state = Faulted
	d.inProgressCount--

	var blocked []K
	visited := map[K]struct{}{entry.Key: {}}
	stack := make([]K, 0, len(entry.dependents))
	for k := range entry.dependents {
		if _, inScope := d.scope[k]; inScope {
			stack = append(stack, k)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		blocked = append(blocked, cur)
		if curEntry, ok := d.byKey[cur]; ok {
			for next := range curEntry.dependents {
				if _, inScope := d.scope[next]; inScope {
					stack = append(stack, next)
				}
			}
		}
	}
	return blocked, nil
}

// mergeInto absorbs src's entries and members into dst. It is a no-op
// when dst and src are already the same object. Every TaskGroup that was
// a member of src is repointed at dst.
func mergeInto[K ~string, R any](dst, src *DAG[K, R]) *DAG[K, R] {
	if dst == src {
		return dst
	}
	for _, key := range src.entries {
		if _, exists := dst.byKey[key]; exists {
			continue
		}
		dst.byKey[key] = src.byKey[key]
		dst.entries = append(dst.entries, key)
	}
	for tg := range src.members {
		tg.dag = dst
		dst.members[tg] = struct{}{}
	}
	return dst
}
