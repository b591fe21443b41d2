package taskgroup

import "fmt"

// proxyWrapper is the late-activated shadow structure a TaskGroup grows
// the first time a post-run dependent is attached to it. It owns the
// proxy task group: a TaskGroup whose root is a synthetic, no-op entry
// keyed "proxy-<rootKey>", interposed between the real root and every
// TaskGroup that depended on the real root before the proxy existed.
type proxyWrapper[K ~string, R any] struct {
	proxyTaskGroup *TaskGroup[K, R]
}

func proxyKeyFor[K ~string](rootKey K) K {
	return K(fmt.Sprintf("proxy-%s", string(rootKey)))
}

// addPostRunDependent implements spec.md §4.3. real is the TaskGroup the
// dependent is being attached to (the "self" of
// AddPostRunDependentTaskGroup); dependent is the TaskGroup that must run
// after real's root, and after every parent real's root already had.
func addPostRunDependent[K ~string, R any](real, dependent *TaskGroup[K, R]) error {
	// Reject a cycle before activating the proxy, so that a failed call
	// leaves the graph as it was. Groups backed by different DAG objects
	// share no path, so only a shared DAG can close one.
	if dependentRoot := effectiveRootKey(dependent); real.dag == dependent.dag && dependentRoot != real.rootKey &&
		real.dag.reaches(effectiveRootKey(real), dependentRoot) {
		return fmt.Errorf("taskgroup: add post-run dependent %v->%v: %w", real.rootKey, dependent.rootKey, ErrCycleDetected)
	}

	if real.proxy == nil {
		if err := activateProxy(real); err != nil {
			return err
		}
	}

	proxy := real.proxy.proxyTaskGroup
	dag := mergeInto(proxy.dag, dependent.dag)

	// The proxy depends on the dependent's effective root too: a nested
	// proxy threads through, per spec.md §4.3.3.
	if err := dag.AddEdge(effectiveRootKey(dependent), proxy.rootKey); err != nil {
		return err
	}

	real.postRunDependents = append(real.postRunDependents, dependent)
	// The dependent's root is now a dependency of the proxy, which from
	// real's viewpoint means dependent holds a back reference to real.
	real.parentDAGs[dependent] = struct{}{}

	return nil
}

// activateProxy performs the first-time proxy creation and parent
// rewiring described in spec.md §4.3 step 1, and reproduced literally
// from the Java test testParentReassignmentUponProxyTaskGroupActivation:
// after activation, real.parentDAGs contains exactly the proxy task
// group and whatever dependent triggered the activation (added by the
// caller, addPostRunDependent, after this returns); the proxy's own
// parentDAGs contains exactly real's pre-existing parents.
func activateProxy[K ~string, R any](real *TaskGroup[K, R]) error {
	proxyKey := proxyKeyFor(real.rootKey)
	proxyEntry := NewEntry[K, R](proxyKey, noopTaskItem[R]{})
	if err := real.dag.AddEntry(proxyEntry); err != nil {
		return err
	}

	proxyTaskGroup := &TaskGroup[K, R]{
		dag:        real.dag,
		rootKey:    proxyKey,
		strategy:   real.strategy,
		parentDAGs: make(map[*TaskGroup[K, R]]struct{}),
	}
	real.dag.members[proxyTaskGroup] = struct{}{}

	// Rewire every existing parent Q of real's root: the edge
	// real.root -> Q.root is replaced by proxy.root -> Q.root, and Q
	// moves from real.parentDAGs to proxy.parentDAGs.
	parents := real.parentDAGs
	real.parentDAGs = make(map[*TaskGroup[K, R]]struct{})
	for parent := range parents {
		real.dag.RemoveEdge(real.rootKey, parent.rootKey)
		if err := real.dag.AddEdge(proxyKey, parent.rootKey); err != nil {
			return err
		}
		proxyTaskGroup.parentDAGs[parent] = struct{}{}
	}

	// The proxy depends on real's root: it must not run until real has.
	if err := real.dag.AddEdge(real.rootKey, proxyKey); err != nil {
		return err
	}

	real.proxy = &proxyWrapper[K, R]{proxyTaskGroup: proxyTaskGroup}
	real.parentDAGs[proxyTaskGroup] = struct{}{}

	return nil
}
