package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/taskgroup"
	"github.com/meikuraledutech/taskgroup/store"
)

// printingItem prints its key as it runs and produces it as its result,
// the in-process equivalent of the Java test suite's StringTaskItem.
type printingItem struct {
	key string
}

func (p *printingItem) Prepare() {}

func (p *printingItem) IsHot() bool { return false }

func (p *printingItem) Result() string { return p.key }

func (p *printingItem) InvokeAsync(*taskgroup.InvocationContext) <-chan taskgroup.Outcome[string] {
	ch := make(chan taskgroup.Outcome[string], 1)
	fmt.Printf("running %s\n", p.key)
	ch <- taskgroup.Outcome[string]{Value: p.key}
	close(ch)
	return ch
}

func node(key string) *taskgroup.TaskGroup[string, string] {
	return taskgroup.NewTaskGroup[string, string](key, &printingItem{key: key}, taskgroup.TerminateOnInProgressCompletion)
}

func main() {
	ctx := context.Background()

	var recorder store.Recorder = store.NoopRecorder{}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()

		pg := store.New(pool)
		if err := pg.CreateSchema(ctx); err != nil {
			log.Fatalf("schema: %v", err)
		}
		fmt.Println("schema created")
		recorder = pg
	}

	// The canonical sample shape: F depends on B and E; E depends on C
	// and D; B, C, D all depend on A.
	a, b, c, d, e, f := node("A"), node("B"), node("C"), node("D"), node("E"), node("F")
	mustCompose(b.AddDependencyTaskGroup(a))
	mustCompose(c.AddDependencyTaskGroup(a))
	mustCompose(d.AddDependencyTaskGroup(a))
	mustCompose(e.AddDependencyTaskGroup(c))
	mustCompose(e.AddDependencyTaskGroup(d))
	mustCompose(f.AddDependencyTaskGroup(b))
	mustCompose(f.AddDependencyTaskGroup(e))

	// G is declared as F's post-run dependent: it runs only after F
	// completes, and anything depending on F would wait for G as well.
	g := node("G")
	mustCompose(f.AddPostRunDependentTaskGroup(g))

	ic := taskgroup.NewInvocationContext()
	if err := recorder.RecordRunStarted(ctx, ic.RunID, f.RootKey()); err != nil {
		log.Fatalf("record run started: %v", err)
	}

	driver := taskgroup.NewInvocationDriver(f)
	sequence := 0
	failed := false
	for item := range driver.InvokeAsync(ctx, ic) {
		sequence++
		if item.Err != nil {
			failed = true
			fmt.Printf("failed: %v\n", item.Err)
			if err := recorder.RecordEntryFailed(ctx, ic.RunID, item.Key, item.Err.Error(), sequence); err != nil {
				log.Fatalf("record entry failed: %v", err)
			}
			continue
		}
		fmt.Printf("completed %s -> %s\n", item.Key, item.Value)
		if err := recorder.RecordEntryCompleted(ctx, ic.RunID, item.Key, item.Value, sequence); err != nil {
			log.Fatalf("record entry completed: %v", err)
		}
	}

	if err := recorder.RecordRunFinished(ctx, ic.RunID, failed); err != nil {
		log.Fatalf("record run finished: %v", err)
	}
	fmt.Println("\nrun", ic.RunID, "finished")
}

func mustCompose(err error) {
	if err != nil {
		log.Fatalf("compose: %v", err)
	}
}
