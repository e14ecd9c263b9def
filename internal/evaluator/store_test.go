package evaluator

import (
	"context"
	"testing"
	"time"
)

func TestStoreSaveAndList(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	run := &RunRecord{
		TaskID:       "github/star_repo",
		Category:     "github",
		Model:        "claude-3-7-sonnet-20250219",
		ExecMode:     "mixed",
		Status:       StatusCompleted,
		Reason:       "checker verified goal state",
		Turns:        4,
		InputTokens:  1200,
		OutputTokens: 300,
		DurationSecs: 42.5,
		StartedAt:    now.Add(-time.Minute),
		FinishedAt:   now,
	}
	events := []Event{
		{Seq: 1, Type: EventTaskStart, Timestamp: now.Add(-time.Minute)},
		{Seq: 2, Type: EventToolCallStart, Timestamp: now, Data: map[string]any{"tool_name": "bash"}},
	}

	if err := store.SaveRun(ctx, run, events); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if run.ID == "" {
		t.Error("run ID was not assigned")
	}

	runs, err := store.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("listed %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.TaskID != "github/star_repo" || got.Status != StatusCompleted || got.Turns != 4 {
		t.Errorf("run = %+v", got)
	}

	stored, err := store.Events(ctx, run.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d events, want 2", len(stored))
	}
	if stored[1].Type != EventToolCallStart {
		t.Errorf("event type = %q", stored[1].Type)
	}
	if name, _ := stored[1].Data["tool_name"].(string); name != "bash" {
		t.Errorf("tool_name = %q, want bash", name)
	}
}

func TestStoreListFilterByTask(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i, taskID := range []string{"a/one", "a/one", "b/two"} {
		run := &RunRecord{
			TaskID:    taskID,
			Status:    StatusFailed,
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveRun(ctx, run, nil); err != nil {
			t.Fatalf("save run %d: %v", i, err)
		}
	}

	runs, err := store.ListRuns(ctx, "a/one", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("listed %d runs for a/one, want 2", len(runs))
	}
}
