package calls

import (
	"errors"
	"time"
)

// Call represents one inbound phone call answered for a tenant.
//
// Invariants:
//   - exactly one row per ProviderCallID (the idempotency key for all webhook writes)
//   - once Status is terminal it never changes; only Summary/Intent/CallbackRequested
//     (post-call notifier) and Handled/Archived (tenant) are written afterwards
//
// State, TurnIndex and SilenceCount are the persisted conversation state machine.
// TurnIndex counts completed turns and is the expected turn of the next speech result.
type Call struct {
	ID             string `json:"id" db:"id"`
	TenantID       string `json:"tenant_id" db:"tenant_id"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`
	CallerPhone    string `json:"caller_phone" db:"caller_phone"`

	Status CallStatus `json:"status" db:"status"`

	// DurationSeconds is the call duration as reported by the provider.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	Summary           string `json:"summary,omitempty" db:"summary"`
	Intent            string `json:"intent,omitempty" db:"intent"`
	CallbackRequested bool   `json:"callback_requested" db:"callback_requested"`
	Handled           bool   `json:"handled" db:"handled"`
	Archived          bool   `json:"archived" db:"archived"`

	ProviderCostMicros int64 `json:"provider_cost_micros" db:"provider_cost_micros"`

	State        ConversationState `json:"conversation_state" db:"conversation_state"`
	TurnIndex    int               `json:"turn_index" db:"turn_index"`
	SilenceCount int               `json:"silence_count" db:"silence_count"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
)

func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}

// ConversationState is where a call sits in the dialogue.
// A call without a row is implicitly at the start; the greeting is emitted in
// the inbound response and never persisted as a resting state.
type ConversationState string

const (
	StateAwaitingInput ConversationState = "awaiting_input"
	StateEnding        ConversationState = "ending"
	StateTerminated    ConversationState = "terminated"
)

type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "ai"
)

// NoSpeech is stored as the caller's message when a gather returns nothing.
const NoSpeech = "[No speech detected]"

// Entry is one utterance in a call's transcript. Entries are append-only and
// ordered by (CreatedAt, ID).
type Entry struct {
	ID        int64     `json:"id" db:"id"`
	CallID    string    `json:"call_id" db:"call_id"`
	Speaker   Speaker   `json:"speaker" db:"speaker"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TurnWrite persists one completed turn: the caller entry, the agent entry and
// the advanced turn counter, atomically.
type TurnWrite struct {
	CallID string

	// ExpectedTurn must equal the stored TurnIndex, otherwise ErrConflict.
	ExpectedTurn int

	CallerMessage string
	AgentMessage  string

	SilenceCount int
	NextState    ConversationState

	At time.Time
}

// Finalization is what the terminal status event writes.
type Finalization struct {
	Status             CallStatus
	DurationSeconds    int
	RecordingURL       string
	ProviderCostMicros int64
	EndedAt            time.Time
}

// Summary is the post-call notifier's derived view of a call.
type Summary struct {
	Text              string
	Intent            string
	CallbackRequested bool
}

var (
	ErrNotFound        = errors.New("call not found")
	ErrConflict        = errors.New("call state conflict")
	ErrInvalidArgument = errors.New("invalid argument")
)
