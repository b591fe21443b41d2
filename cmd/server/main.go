package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/taskgroup"
	"github.com/meikuraledutech/taskgroup/store"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")

	var recorder store.Recorder = store.NoopRecorder{}
	if dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()
		recorder = store.New(pool)
	}

	app := fiber.New()

	app.Post("/schema", func(c fiber.Ctx) error {
		if err := recorder.CreateSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := recorder.DropSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	app.Post("/invoke", func(c fiber.Ctx) error {
		var payload GraphPayload
		if err := c.Bind().JSON(&payload); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}

		root, err := buildGraph(payload)
		if errors.Is(err, taskgroup.ErrCycleDetected) {
			return c.Status(422).JSON(fiber.Map{"error": "cycle detected"})
		}
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}

		ctx := c.Context()
		ic := taskgroup.NewInvocationContext()
		if err := recorder.RecordRunStarted(ctx, ic.RunID, root.RootKey()); err != nil {
			log.Printf("record run started: %v", err)
		}

		driver := taskgroup.NewInvocationDriver(root)
		results := driver.InvokeAsync(ctx, ic)

		reader, writer := io.Pipe()
		go streamResults(ctx, recorder, ic.RunID, results, writer)

		c.Set(fiber.HeaderContentType, "application/x-ndjson")
		return c.SendStream(reader)
	})

	log.Fatal(app.Listen(":3000"))
}

type resultLine struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func streamResults(ctx context.Context, recorder store.Recorder, runID string, results <-chan taskgroup.StreamItem[string, string], w *io.PipeWriter) {
	enc := json.NewEncoder(w)
	sequence := 0
	failed := false

	for item := range results {
		sequence++
		if item.Err != nil {
			failed = true
			if err := recorder.RecordEntryFailed(ctx, runID, item.Key, item.Err.Error(), sequence); err != nil {
				log.Printf("record entry failed: %v", err)
			}
			_ = enc.Encode(resultLine{Error: item.Err.Error()})
			continue
		}
		if err := recorder.RecordEntryCompleted(ctx, runID, item.Key, item.Value, sequence); err != nil {
			log.Printf("record entry completed: %v", err)
		}
		_ = enc.Encode(resultLine{Key: item.Key, Value: item.Value})
	}

	if err := recorder.RecordRunFinished(ctx, runID, failed); err != nil {
		log.Printf("record run finished: %v", err)
	}
	w.Close()
}
