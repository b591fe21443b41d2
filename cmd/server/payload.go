package main

import (
	"fmt"

	"github.com/meikuraledutech/taskgroup"
)

// NodePayload names one TaskGroup root by a request-local ref, adapted
// from the teacher's Node/Ref JSON shape (dag.go) -- here the ref
// resolves to a TaskGroup instead of a persisted row.
type NodePayload struct {
	Ref string `json:"ref"`
	Key string `json:"key"`
}

// EdgePayload composes two previously declared nodes. Kind is either
// "dependency" (ToRef depends on FromRef) or "post_run" (ToRef runs only
// after FromRef's root, and every node depending on FromRef waits for
// ToRef as well).
type EdgePayload struct {
	FromRef string `json:"from_ref"`
	ToRef   string `json:"to_ref"`
	Kind    string `json:"kind"`
}

// GraphPayload is the request body for POST /invoke: a set of nodes, the
// edges composing them, and which node is the invocation root.
type GraphPayload struct {
	Nodes   []NodePayload `json:"nodes"`
	Edges   []EdgePayload `json:"edges"`
	RootRef string        `json:"root_ref"`
}

// buildGraph turns a GraphPayload into a tree of composed TaskGroups and
// returns the one named as the invocation root.
func buildGraph(p GraphPayload) (*taskgroup.TaskGroup[string, string], error) {
	groups := make(map[string]*taskgroup.TaskGroup[string, string], len(p.Nodes))
	for _, n := range p.Nodes {
		if _, exists := groups[n.Ref]; exists {
			return nil, fmt.Errorf("cmd/server: duplicate node ref %q", n.Ref)
		}
		groups[n.Ref] = taskgroup.NewTaskGroup[string, string](n.Key, &echoTaskItem{key: n.Key}, taskgroup.TerminateOnInProgressCompletion)
	}

	for _, e := range p.Edges {
		from, ok := groups[e.FromRef]
		if !ok {
			return nil, fmt.Errorf("cmd/server: unknown from_ref %q", e.FromRef)
		}
		to, ok := groups[e.ToRef]
		if !ok {
			return nil, fmt.Errorf("cmd/server: unknown to_ref %q", e.ToRef)
		}

		switch e.Kind {
		case "dependency":
			if err := to.AddDependencyTaskGroup(from); err != nil {
				return nil, err
			}
		case "post_run":
			if err := from.AddPostRunDependentTaskGroup(to); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("cmd/server: unknown edge kind %q", e.Kind)
		}
	}

	root, ok := groups[p.RootRef]
	if !ok {
		return nil, fmt.Errorf("cmd/server: unknown root_ref %q", p.RootRef)
	}
	return root, nil
}
