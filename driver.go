package taskgroup

import "context"

// StreamItem is a single emission from InvocationDriver's output stream:
// either the result of one entry's completed TaskItem, or a terminal
// WorkItemFailure (with Key set to the faulted entry's key).
type StreamItem[K ~string, R any] struct {
	Key   K
	Value R
	Err   error
}

// InvocationDriver produces a lazy stream of results by repeatedly
// pulling ready entries from a TaskGroup's effective DAG and dispatching
// them to their TaskItem's own execution substrate (spec.md §4.4).
type InvocationDriver[K ~string, R any] struct {
	group *TaskGroup[K, R]
}

// NewInvocationDriver wraps group for invocation. Invoking any group
// transitively invokes everything reachable through its dependencies and
// post-run dependents.
func NewInvocationDriver[K ~string, R any](group *TaskGroup[K, R]) *InvocationDriver[K, R] {
	return &InvocationDriver[K, R]{group: group}
}

type completion[K ~string, R any] struct {
	entry   *Entry[K, R]
	outcome Outcome[R]
}

// InvokeAsync chooses the effective entry DAG (the proxy task group's,
// if one is active; otherwise the group's own), prepares it for
// enumeration, and walks it to completion, emitting one StreamItem per
// completed entry in completion order (not dispatch order).
//
// Cancelling ctx stops further dispatch; entries already in progress are
// allowed to finish (their results are discarded) before the output
// channel is closed, preserving external side-effect atomicity per
// spec.md §5.
func (d *InvocationDriver[K, R]) InvokeAsync(ctx context.Context, ic *InvocationContext) <-chan StreamItem[K, R] {
	out := make(chan StreamItem[K, R])

	eff := d.group
	if p := d.group.ProxyTaskGroup(); p != nil {
		eff = p
	}
	dag := eff.dag

	go func() {
		defer close(out)

		dag.invoking = true
		defer func() { dag.invoking = false }()
		dag.PrepareForEnumeration(eff.rootKey)

		completions := make(chan completion[K, R])
		inFlight := 0
		cancelled := false
		var faulted error
		var failures []*WorkItemFailure[K]
		skip := make(map[K]struct{})

		dispatch := func(entry *Entry[K, R]) {
			inFlight++
			go func() {
				entry.Item.Prepare()
				ch := entry.Item.InvokeAsync(ic)
				outcome, ok := <-ch
				if !ok {
					var zero Outcome[R]
					outcome = zero
				}
				completions <- completion[K, R]{entry: entry, outcome: outcome}
			}()
		}

		for {
			if !cancelled {
				for {
					entry, ok := dag.GetNext()
					if !ok {
						break
					}
					if _, isSkipped := skip[entry.Key]; isSkipped {
						newlyBlocked, _ := dag.ReportFailure(entry, faulted)
						for _, k := range newlyBlocked {
							skip[k] = struct{}{}
						}
						continue
					}
					dispatch(entry)
				}
			}

			if inFlight == 0 {
				// All in-progress work has drained. Surface the first
				// failure (TerminateOnInProgressCompletion), or every
				// failure collected, in the order they occurred, once
				// nothing further can become ready (TerminateOnHubCompletion).
				if len(failures) > 0 && eff.strategy != TerminateOnHubCompletion {
					failures = failures[:1]
				}
				for _, wf := range failures {
					select {
					case out <- StreamItem[K, R]{Key: wf.Key, Err: wf}:
					case <-ctx.Done():
						return
					}
				}
				return
			}

			select {
			case c := <-completions:
				inFlight--
				entry := c.entry
				if c.outcome.Err != nil {
					blocked, _ := dag.ReportFailure(entry, c.outcome.Err)
					wf := &WorkItemFailure[K]{Key: entry.Key, Cause: c.outcome.Err}
					if faulted == nil {
						faulted = wf
					}
					failures = append(failures, wf)
					if eff.strategy == TerminateOnHubCompletion {
						for _, k := range blocked {
							skip[k] = struct{}{}
						}
					} else {
						cancelled = true
					}
					continue
				}
				_ = dag.ReportCompletion(entry)
				if cancelled || (faulted != nil && eff.strategy == TerminateOnInProgressCompletion) {
					continue
				}
				select {
				case out <- StreamItem[K, R]{Key: entry.Key, Value: entry.Result()}:
				case <-ctx.Done():
					cancelled = true
				}
			case <-ctx.Done():
				cancelled = true
			}
		}
	}()

	return out
}
