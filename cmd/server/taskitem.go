package main

import "github.com/meikuraledutech/taskgroup"

// echoTaskItem is the default work item assigned to every node submitted
// over HTTP: it does no real work and simply produces its own key. A
// hosting application wiring real work into this server would replace
// this with TaskItems backed by its own domain calls; the HTTP surface
// itself only needs something that exercises the scheduler end to end.
type echoTaskItem struct {
	key string
}

func (e *echoTaskItem) Prepare() {}

func (e *echoTaskItem) IsHot() bool { return false }

func (e *echoTaskItem) Result() string { return e.key }

func (e *echoTaskItem) InvokeAsync(*taskgroup.InvocationContext) <-chan taskgroup.Outcome[string] {
	ch := make(chan taskgroup.Outcome[string], 1)
	ch <- taskgroup.Outcome[string]{Value: e.key}
	close(ch)
	return ch
}
