package taskgroup

import "fmt"

// TaskGroup is a DAG augmented with a distinguished root entry, a set of
// parent TaskGroups that currently depend on this group's root (a weak
// back-reference used only for proxy rewiring, never for ownership), a
// list of post-run dependents, and a lazily-activated ProxyWrapper.
//
// Composing TaskGroups never copies graphs: AddDependencyTaskGroup and
// AddPostRunDependentTaskGroup union the participants onto one shared
// DAG, so that enumerating from any of them walks the full transitive
// closure.
type TaskGroup[K ~string, R any] struct {
	dag      *DAG[K, R]
	rootKey  K
	strategy TerminationStrategy

	parentDAGs        map[*TaskGroup[K, R]]struct{}
	postRunDependents []*TaskGroup[K, R]
	proxy             *proxyWrapper[K, R]
}

// NewTaskGroup creates a TaskGroup whose DAG contains a single entry: the
// given root key and item.
func NewTaskGroup[K ~string, R any](rootKey K, rootItem TaskItem[R], strategy TerminationStrategy) *TaskGroup[K, R] {
	tg := &TaskGroup[K, R]{
		rootKey:    rootKey,
		strategy:   strategy,
		parentDAGs: make(map[*TaskGroup[K, R]]struct{}),
	}
	tg.dag = NewDAG[K, R]()
	tg.dag.members[tg] = struct{}{}
	// A fresh DAG cannot already contain rootKey, so this cannot fail.
	_ = tg.dag.AddEntry(NewEntry(rootKey, rootItem))
	return tg
}

// RootKey returns this group's root entry key.
func (g *TaskGroup[K, R]) RootKey() K { return g.rootKey }

// DAG returns the underlying (possibly shared) DAG this group's root
// lives in.
func (g *TaskGroup[K, R]) DAG() *DAG[K, R] { return g.dag }

// ParentDAGs returns the set of TaskGroups that currently treat this
// group's root as a dependency.
func (g *TaskGroup[K, R]) ParentDAGs() map[*TaskGroup[K, R]]struct{} { return g.parentDAGs }

// PostRunDependents returns the ordered list of TaskGroups registered via
// AddPostRunDependentTaskGroup.
func (g *TaskGroup[K, R]) PostRunDependents() []*TaskGroup[K, R] { return g.postRunDependents }

// ProxyTaskGroup returns this group's proxy task group if a post-run
// dependent has ever been attached, or nil otherwise.
func (g *TaskGroup[K, R]) ProxyTaskGroup() *TaskGroup[K, R] {
	if g.proxy == nil {
		return nil
	}
	return g.proxy.proxyTaskGroup
}

// effectiveRootKey returns the key that should stand in for g as a
// dependency target: the proxy root if g has an active proxy (so edges
// thread through existing proxies rather than around them, per spec.md
// §4.3 recursion rule), otherwise g's own root.
func effectiveRootKey[K ~string, R any](g *TaskGroup[K, R]) K {
	if g.proxy != nil {
		return g.proxy.proxyTaskGroup.rootKey
	}
	return g.rootKey
}

// AddDependencyTaskGroup makes g's root depend on other's (effective)
// root, merging other's DAG into g's and registering g as a parent of
// other. It rejects the composition with ErrCycleDetected if it would
// introduce one, and with ErrInvalidState if either group has an
// invocation in progress.
func (g *TaskGroup[K, R]) AddDependencyTaskGroup(other *TaskGroup[K, R]) error {
	if g.dag.invoking || other.dag.invoking {
		return fmt.Errorf("taskgroup: add dependency: %w", ErrInvalidState)
	}
	dag := mergeInto(g.dag, other.dag)
	if err := dag.AddEdge(effectiveRootKey(other), g.rootKey); err != nil {
		return err
	}
	other.parentDAGs[g] = struct{}{}
	return nil
}

// AddPostRunDependentTaskGroup declares that other's root runs only after
// g's root completes, and that every TaskGroup depending on g waits for
// other as well. This is implemented by activating (or reusing) g's
// proxy; see proxy.go.
func (g *TaskGroup[K, R]) AddPostRunDependentTaskGroup(other *TaskGroup[K, R]) error {
	if g.dag.invoking || other.dag.invoking {
		return fmt.Errorf("taskgroup: add post-run dependent: %w", ErrInvalidState)
	}
	return addPostRunDependent(g, other)
}
