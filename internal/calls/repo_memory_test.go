package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newCall(providerID string) Call {
	return Call{
		TenantID:       "tenant-1",
		ProviderCallID: providerID,
		CallerPhone:    "+15550001111",
		Status:         CallStatusInProgress,
		State:          StateAwaitingInput,
	}
}

func TestMemoryRepo_CreateIsIdempotentPerProviderID(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()

	first, created, err := r.Create(ctx, newCall("CA1"))
	if err != nil || !created {
		t.Fatalf("expected created, got %v %v", created, err)
	}
	again, created, err := r.Create(ctx, newCall("CA1"))
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected existing row returned")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 call, got %d", r.Count())
	}
}

func TestMemoryRepo_AppendTurnGuardsExpectedTurn(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	c, _, _ := r.Create(ctx, newCall("CA2"))

	w := TurnWrite{CallID: c.ID, ExpectedTurn: 0, CallerMessage: "hello", AgentMessage: "hi there"}
	if err := r.AppendTurn(ctx, w); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := r.AppendTurn(ctx, w); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on replay, got %v", err)
	}

	entries, _ := r.ListEntries(ctx, c.ID)
	if len(entries) != 2 || entries[0].Speaker != SpeakerCaller || entries[1].Speaker != SpeakerAgent {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	got, _ := r.Get(ctx, c.ID)
	if got.TurnIndex != 1 {
		t.Fatalf("expected turn 1, got %d", got.TurnIndex)
	}
}

func TestMemoryRepo_ConcurrentAppendSingleWinner(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	c, _, _ := r.Create(ctx, newCall("CA3"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.AppendTurn(ctx, TurnWrite{CallID: c.ID, ExpectedTurn: 0, CallerMessage: "x", AgentMessage: "y"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	entries, _ := r.ListEntries(ctx, c.ID)
	if len(entries) != 2 {
		t.Fatalf("expected one pair of entries, got %d", len(entries))
	}
}

func TestMemoryRepo_AppendTurnRejectedAfterEnding(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	c, _, _ := r.Create(ctx, newCall("CA4"))

	if err := r.AppendTurn(ctx, TurnWrite{CallID: c.ID, ExpectedTurn: 0, CallerMessage: "[No speech detected]", AgentMessage: "bye", NextState: StateEnding}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := r.AppendTurn(ctx, TurnWrite{CallID: c.ID, ExpectedTurn: 1, CallerMessage: "late", AgentMessage: "late"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict once ending, got %v", err)
	}
}

func TestMemoryRepo_FinalizeAppliesOnce(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	_, _, _ = r.Create(ctx, newCall("CA5"))

	f := Finalization{Status: CallStatusCompleted, DurationSeconds: 42, RecordingURL: "https://rec/1", ProviderCostMicros: 5950, EndedAt: time.Unix(100, 0)}
	c, applied, err := r.Finalize(ctx, "CA5", f)
	if err != nil || !applied {
		t.Fatalf("expected applied, got %v %v", applied, err)
	}
	if c.Status != CallStatusCompleted || c.DurationSeconds != 42 || c.State != StateTerminated || c.EndedAt == nil {
		t.Fatalf("unexpected call: %+v", c)
	}

	f.Status = CallStatusFailed
	c, applied, err = r.Finalize(ctx, "CA5", f)
	if err != nil || applied {
		t.Fatalf("expected no-op, got %v %v", applied, err)
	}
	if c.Status != CallStatusCompleted {
		t.Fatalf("terminal status must not change, got %s", c.Status)
	}

	if _, _, err := r.Finalize(ctx, "missing", f); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryRepo_SetSummary(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	c, _, _ := r.Create(ctx, newCall("CA6"))

	if err := r.SetSummary(ctx, c.ID, Summary{Text: "Caller said: hi", Intent: "general", CallbackRequested: true}); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	got, _ := r.Get(ctx, c.ID)
	if got.Summary != "Caller said: hi" || !got.CallbackRequested {
		t.Fatalf("unexpected call: %+v", got)
	}
	if err := r.SetSummary(ctx, "nope", Summary{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
