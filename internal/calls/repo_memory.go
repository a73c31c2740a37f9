package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests and local runs.
// It applies the same conditional-write rules as the Postgres store.
type MemoryRepo struct {
	mu sync.Mutex

	calls      map[string]Call   // by id
	byProvider map[string]string // provider_call_id -> id
	entries    map[string][]Entry
	seq        int64

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:      map[string]Call{},
		byProvider: map[string]string{},
		entries:    map[string][]Entry{},
		clock:      time.Now,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) (Call, bool, error) {
	if c.ProviderCallID == "" || c.TenantID == "" {
		return Call{}, false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byProvider[c.ProviderCallID]; ok {
		return r.calls[id], false, nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.clock().UTC()
	}
	r.calls[c.ID] = c
	r.byProvider[c.ProviderCallID] = c.ID
	return c, true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return r.calls[id], nil
}

func (r *MemoryRepo) ListEntries(ctx context.Context, callID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.entries[callID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}

func (r *MemoryRepo) AppendTurn(ctx context.Context, w TurnWrite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[w.CallID]
	if !ok {
		return ErrNotFound
	}
	if c.TurnIndex != w.ExpectedTurn || c.State != StateAwaitingInput {
		return ErrConflict
	}

	at := w.At
	if at.IsZero() {
		at = r.clock().UTC()
	}
	r.seq++
	caller := Entry{ID: r.seq, CallID: c.ID, Speaker: SpeakerCaller, Message: w.CallerMessage, CreatedAt: at}
	r.seq++
	agent := Entry{ID: r.seq, CallID: c.ID, Speaker: SpeakerAgent, Message: w.AgentMessage, CreatedAt: at}
	r.entries[c.ID] = append(r.entries[c.ID], caller, agent)

	c.TurnIndex++
	c.SilenceCount = w.SilenceCount
	if w.NextState != "" {
		c.State = w.NextState
	}
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, providerCallID string, f Finalization) (Call, bool, error) {
	if !f.Status.Terminal() {
		return Call{}, false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byProvider[providerCallID]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	c := r.calls[id]
	if c.Status != CallStatusInProgress {
		return c, false, nil
	}

	ended := f.EndedAt
	if ended.IsZero() {
		ended = r.clock().UTC()
	}
	c.Status = f.Status
	c.DurationSeconds = f.DurationSeconds
	c.RecordingURL = f.RecordingURL
	c.ProviderCostMicros = f.ProviderCostMicros
	c.EndedAt = &ended
	c.State = StateTerminated
	r.calls[id] = c
	return c, true, nil
}

func (r *MemoryRepo) SetSummary(ctx context.Context, callID string, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Summary = s.Text
	c.Intent = s.Intent
	c.CallbackRequested = s.CallbackRequested
	r.calls[callID] = c
	return nil
}

// Count returns the number of stored calls.
func (r *MemoryRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
