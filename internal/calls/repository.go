package calls

import "context"

// Repository is the call record store.
//
// All writes are scoped to one call; per-call serialization comes from the
// conditional updates in AppendTurn and Finalize, never from in-process locks.
type Repository interface {
	// Create inserts a new call. If a row with the same ProviderCallID exists,
	// it returns that row with created=false and writes nothing.
	Create(ctx context.Context, c Call) (Call, bool, error)

	Get(ctx context.Context, id string) (Call, error)
	GetByProviderID(ctx context.Context, providerCallID string) (Call, error)

	// ListEntries returns the call's transcript ordered by (created_at, id).
	ListEntries(ctx context.Context, callID string) ([]Entry, error)

	// AppendTurn writes the caller and agent entries and advances TurnIndex by
	// one, only if TurnIndex == w.ExpectedTurn and the call is still awaiting
	// input. Otherwise it returns ErrConflict and writes nothing.
	AppendTurn(ctx context.Context, w TurnWrite) error

	// Finalize applies the terminal status only while the call is in progress.
	// applied reports whether this request made the transition.
	Finalize(ctx context.Context, providerCallID string, f Finalization) (c Call, applied bool, err error)

	SetSummary(ctx context.Context, callID string, s Summary) error
}
