package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/partcraft/partcraft/pkg/engine"
	"github.com/partcraft/partcraft/pkg/stores"
)

// ExampleOpen demonstrates opening an in-memory journal.
func ExampleOpen() {
	store, err := stores.Open(context.Background(), stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Journal ready")
	// Output: Journal ready
}

// ExampleSQLiteStore_GetSession demonstrates reading back a recorded session.
func ExampleSQLiteStore_GetSession() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.MemoryPath)
	defer store.Close()

	session := &engine.Session{
		ID:        "5d2c1f7e-0000-4000-8000-000000000001",
		Project:   "hello",
		Status:    engine.SessionStatusRunning,
		Order:     []string{"libfoo", "hello"},
		StartedAt: time.Now(),
		Results: []engine.PartResult{
			{Part: "libfoo", Position: 0, Status: engine.PartStatusPending},
			{Part: "hello", Position: 1, Status: engine.PartStatusPending},
		},
	}
	_ = store.SessionStarted(ctx, session)
	_ = store.PartFinished(ctx, session.ID, engine.PartResult{Part: "libfoo", Status: engine.PartStatusSucceeded})
	_ = store.PartFinished(ctx, session.ID, engine.PartResult{Part: "hello", Position: 1, Status: engine.PartStatusSucceeded})
	session.Status = engine.SessionStatusSucceeded
	_ = store.SessionFinished(ctx, session)

	got, err := store.GetSession(ctx, "5d2c1f7e")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(got.Status)
	for _, r := range got.Results {
		fmt.Printf("%d %s %s\n", r.Position, r.Part, r.Status)
	}
	// Output:
	// succeeded
	// 0 libfoo succeeded
	// 1 hello succeeded
}
