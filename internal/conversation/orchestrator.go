package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/config"
	"voice-receptionist/internal/dialogue"
	"voice-receptionist/internal/speech"
	"voice-receptionist/internal/telephony"
	"voice-receptionist/internal/tenants"
	"voice-receptionist/pkg/logger"
)

const (
	notActiveLine = "This number is not currently active. Please contact support."
	apologyLine   = "I'm sorry, there was an error. Goodbye."

	defaultFallbackLine = "I'm sorry, I didn't quite catch that. Could you say that again?"
	defaultClosingLine  = "I didn't hear anything, so I'll let you go. Thank you for calling, goodbye."
)

// SpeechSource returns audio for one utterance of one call. Repeated requests
// for the same utterance are expected to be cheap.
type SpeechSource interface {
	Audio(ctx context.Context, callID, text string, voice speech.Voice) ([]byte, error)
}

// PostCallNotifier is told about every call that completes. It must not block.
type PostCallNotifier interface {
	Notify(ctx context.Context, c calls.Call)
}

type CostEstimator interface {
	EstimateMicros(durationSeconds int) int64
}

type Options struct {
	SilenceBudget   int
	GatherTimeout   int
	SpeechTimeout   string
	UpstreamTimeout time.Duration
	// TurnBudget bounds all upstream work behind one webhook answer.
	TurnBudget time.Duration

	FallbackLine string
	ClosingLine  string
}

func OptionsFromConfig(cfg config.ConversationConfig) Options {
	return Options{
		SilenceBudget:   cfg.SilenceBudget,
		GatherTimeout:   cfg.GatherTimeout,
		SpeechTimeout:   cfg.SpeechTimeout,
		UpstreamTimeout: cfg.UpstreamTimeout,
		TurnBudget:      cfg.TurnBudget,
		FallbackLine:    cfg.FallbackLine,
		ClosingLine:     cfg.ClosingLine,
	}
}

func (o Options) withDefaults() Options {
	if o.SilenceBudget <= 0 {
		o.SilenceBudget = 3
	}
	if o.GatherTimeout <= 0 {
		o.GatherTimeout = 5
	}
	if o.SpeechTimeout == "" {
		o.SpeechTimeout = "auto"
	}
	if o.UpstreamTimeout <= 0 {
		o.UpstreamTimeout = 10 * time.Second
	}
	if o.TurnBudget <= 0 {
		o.TurnBudget = 12 * time.Second
	}
	if o.FallbackLine == "" {
		o.FallbackLine = defaultFallbackLine
	}
	if o.ClosingLine == "" {
		o.ClosingLine = defaultClosingLine
	}
	return o
}

// Orchestrator drives one phone conversation per call record:
//
//	inbound  -> greet, listen(turn 0)
//	speech   -> persist caller+agent pair, speak, listen(turn+1)
//	silence  -> same, until the budget is spent; then close and hang up
//	status   -> finalize once, notify on completion
//
// Every webhook answer is a valid voice response. Per-call ordering comes
// from the conditional writes in calls.Repository; nothing here locks.
type Orchestrator struct {
	Calls   calls.Repository
	Tenants tenants.Directory
	Policy  dialogue.Policy
	Speech  SpeechSource
	Tokens  *auth.MediaTokenManager

	// Optional.
	Notifier PostCallNotifier
	Costs    CostEstimator

	BaseURL string
	Options Options
	Now     func() time.Time
}

var _ telephony.ConversationEngine = (*Orchestrator)(nil)

func NewOrchestrator(repo calls.Repository, dir tenants.Directory, policy dialogue.Policy, src SpeechSource, tokens *auth.MediaTokenManager, baseURL string, opts Options) *Orchestrator {
	return &Orchestrator{
		Calls:   repo,
		Tenants: dir,
		Policy:  policy,
		Speech:  src,
		Tokens:  tokens,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Options: opts.withDefaults(),
		Now:     time.Now,
	}
}

func (o *Orchestrator) HandleInbound(ctx context.Context, in telephony.InboundCall) telephony.VoiceResponse {
	deadline := o.turnDeadline()
	log := logger.From(ctx)

	tenant, err := o.Tenants.ByAssignedNumber(ctx, in.To)
	if err != nil {
		if errors.Is(err, tenants.ErrTenantNotFound) {
			fallbacksTotal.WithLabelValues(fallbackUnknownTenant).Inc()
			log.Warn("inbound call to unassigned number", "to", in.To)
			return *telephony.NewResponse().Say(notActiveLine).Hangup()
		}
		log.Error("tenant lookup failed", "to", in.To, "err", err)
		return o.apology()
	}

	call, created, err := o.Calls.Create(ctx, calls.Call{
		TenantID:       tenant.ID,
		ProviderCallID: in.ProviderCallID,
		CallerPhone:    in.From,
		Status:         calls.CallStatusInProgress,
		State:          calls.StateAwaitingInput,
		CreatedAt:      o.Now().UTC(),
	})
	if err != nil {
		fallbacksTotal.WithLabelValues(fallbackPersistence).Inc()
		log.Error("create call failed", "tenant_id", tenant.ID, "err", err)
		return o.apology()
	}
	log = log.With("call_id", call.ID, "tenant_id", tenant.ID)

	if !created {
		duplicatesTotal.WithLabelValues("inbound").Inc()
		log.Info("duplicate inbound event", "turn", call.TurnIndex, "state", call.State)
		if call.State != calls.StateAwaitingInput {
			return *telephony.NewResponse().Hangup()
		}
	} else {
		log.Info("call started", "from", in.From)
	}

	r := telephony.NewResponse()
	o.speak(ctx, log, r, deadline, call.ID, tenant, tenant.Greeting())
	r.Listen(o.listen(call.TurnIndex))
	return *r
}

func (o *Orchestrator) HandleSpeech(ctx context.Context, res telephony.SpeechResult) telephony.VoiceResponse {
	deadline := o.turnDeadline()
	log := logger.From(ctx).With("turn", res.Turn)

	call, err := o.Calls.GetByProviderID(ctx, res.ProviderCallID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("speech result for unknown call")
		} else {
			log.Error("load call failed", "err", err)
		}
		return o.apology()
	}
	log = log.With("call_id", call.ID, "tenant_id", call.TenantID)

	if call.State != calls.StateAwaitingInput {
		log.Info("speech result after call ended ignored", "state", call.State)
		return *telephony.NewResponse().Hangup()
	}

	tenant, err := o.Tenants.Get(ctx, call.TenantID)
	if err != nil {
		log.Error("tenant lookup failed", "err", err)
		return o.apology()
	}

	if res.Turn != call.TurnIndex {
		duplicatesTotal.WithLabelValues("speech").Inc()
		log.Info("stale speech result", "current_turn", call.TurnIndex)
		return o.replay(ctx, log, deadline, call, tenant)
	}

	entries, err := o.Calls.ListEntries(ctx, call.ID)
	if err != nil {
		fallbacksTotal.WithLabelValues(fallbackPersistence).Inc()
		log.Error("load transcript failed", "err", err)
		return o.apology()
	}

	said := strings.TrimSpace(res.Speech)
	w := calls.TurnWrite{
		CallID:        call.ID,
		ExpectedTurn:  call.TurnIndex,
		CallerMessage: said,
		NextState:     calls.StateAwaitingInput,
		At:            o.Now().UTC(),
	}
	if said == "" {
		w.CallerMessage = calls.NoSpeech
		w.SilenceCount = call.SilenceCount + 1
	}

	exhausted := w.SilenceCount >= o.Options.SilenceBudget
	if exhausted {
		w.AgentMessage = o.Options.ClosingLine
		w.NextState = calls.StateEnding
	} else {
		w.AgentMessage = o.respond(ctx, log, deadline, tenant, dialogue.HistoryFromEntries(entries), w.CallerMessage)
	}

	if err := o.Calls.AppendTurn(ctx, w); err != nil {
		if errors.Is(err, calls.ErrConflict) {
			duplicatesTotal.WithLabelValues("speech").Inc()
			log.Info("turn already written by a concurrent delivery")
			return o.replayCurrent(ctx, log, deadline, res.ProviderCallID, tenant)
		}
		fallbacksTotal.WithLabelValues(fallbackPersistence).Inc()
		log.Error("persist turn failed", "err", err)
		return o.apology()
	}
	turnsTotal.Inc()

	r := telephony.NewResponse()
	o.speak(ctx, log, r, deadline, call.ID, tenant, w.AgentMessage)
	if exhausted {
		fallbacksTotal.WithLabelValues(fallbackSilence).Inc()
		log.Info("silence budget spent, closing call", "silences", w.SilenceCount)
		return *r.Hangup()
	}
	return *r.Listen(o.listen(call.TurnIndex + 1))
}

// HandleStatus records the terminal status once. Progress statuses and
// repeats are acknowledged without writes.
func (o *Orchestrator) HandleStatus(ctx context.Context, u telephony.StatusUpdate) error {
	log := logger.From(ctx).With("provider_status", u.Status)

	status, terminal := terminalStatus(u.Status)
	if !terminal {
		log.Debug("non-terminal call status")
		return nil
	}

	var cost int64
	if o.Costs != nil {
		cost = o.Costs.EstimateMicros(u.DurationSeconds)
	}

	call, applied, err := o.Calls.Finalize(ctx, u.ProviderCallID, calls.Finalization{
		Status:             status,
		DurationSeconds:    u.DurationSeconds,
		RecordingURL:       u.RecordingURL,
		ProviderCostMicros: cost,
		EndedAt:            o.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("status for unknown call")
			return nil
		}
		return fmt.Errorf("finalize call %s: %w", u.ProviderCallID, err)
	}
	if !applied {
		duplicatesTotal.WithLabelValues("status").Inc()
		log.Info("call already finalized", "call_id", call.ID, "status", call.Status)
		return nil
	}

	callsFinalized.WithLabelValues(string(status)).Inc()
	log.Info("call finalized", "call_id", call.ID, "status", status, "duration_seconds", u.DurationSeconds, "cost_micros", cost)

	if status == calls.CallStatusCompleted && o.Notifier != nil {
		o.Notifier.Notify(ctx, call)
	}
	return nil
}

// Audio serves the utterance a media token names.
func (o *Orchestrator) Audio(ctx context.Context, token string) ([]byte, error) {
	claims, err := o.Tokens.Verify(token, o.Now())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.Options.UpstreamTimeout)
	defer cancel()
	return o.Speech.Audio(ctx, claims.CallID, claims.Text, speech.Voice(claims.Voice))
}

// turnDeadline starts the clock for one webhook answer. Context deadlines
// run on the wall clock, so this ignores Now.
func (o *Orchestrator) turnDeadline() time.Time {
	return time.Now().Add(o.Options.TurnBudget)
}

// upstream bounds one upstream call by its own timeout and by what is left
// of the turn.
func (o *Orchestrator) upstream(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if d := time.Now().Add(o.Options.UpstreamTimeout); d.Before(deadline) {
		deadline = d
	}
	return context.WithDeadline(ctx, deadline)
}

func (o *Orchestrator) respond(ctx context.Context, log *slog.Logger, deadline time.Time, tenant tenants.Tenant, history []dialogue.Message, latest string) string {
	ctx, cancel := o.upstream(ctx, deadline)
	defer cancel()

	start := time.Now()
	text, err := o.Policy.Respond(ctx, tenant, history, latest)
	policyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		fallbacksTotal.WithLabelValues(fallbackDialogue).Inc()
		log.Warn("dialogue unavailable, using fallback line", "err", err)
		return o.Options.FallbackLine
	}
	return text
}

// speak appends text as synthesized audio, or as platform speech when
// synthesis fails or the turn has no time left. Synthesizing here warms the
// cache the audio fetch reads.
func (o *Orchestrator) speak(ctx context.Context, log *slog.Logger, r *telephony.VoiceResponse, deadline time.Time, callID string, tenant tenants.Tenant, text string) {
	voice := speech.Voice(tenant.Voice)

	if !time.Now().Before(deadline) {
		fallbacksTotal.WithLabelValues(fallbackSynthesis).Inc()
		log.Warn("turn budget spent, using platform voice")
		r.Say(text)
		return
	}

	sctx, cancel := o.upstream(ctx, deadline)
	defer cancel()
	if _, err := o.Speech.Audio(sctx, callID, text, voice); err != nil {
		fallbacksTotal.WithLabelValues(fallbackSynthesis).Inc()
		log.Warn("synthesis unavailable, using platform voice", "err", err)
		r.Say(text)
		return
	}

	token, err := o.Tokens.Issue(o.Now(), callID, string(voice), text)
	if err != nil {
		log.Error("issue media token failed", "err", err)
		r.Say(text)
		return
	}
	r.Play(telephony.AudioURL(o.BaseURL, token))
}

func (o *Orchestrator) listen(turn int) telephony.Listen {
	return telephony.Listen{
		TimeoutSeconds: o.Options.GatherTimeout,
		SpeechTimeout:  o.Options.SpeechTimeout,
		ActionURL:      telephony.GatherURL(o.BaseURL, turn),
	}
}

// replay repeats the last thing the agent said and listens for the call's
// current turn. Nothing is written.
func (o *Orchestrator) replay(ctx context.Context, log *slog.Logger, deadline time.Time, call calls.Call, tenant tenants.Tenant) telephony.VoiceResponse {
	if call.State != calls.StateAwaitingInput {
		return *telephony.NewResponse().Hangup()
	}

	line := tenant.Greeting()
	entries, err := o.Calls.ListEntries(ctx, call.ID)
	if err != nil {
		log.Error("load transcript for replay failed", "err", err)
		return o.apology()
	}
	if last, ok := calls.LastAgentMessage(entries); ok {
		line = last
	}

	r := telephony.NewResponse()
	o.speak(ctx, log, r, deadline, call.ID, tenant, line)
	return *r.Listen(o.listen(call.TurnIndex))
}

func (o *Orchestrator) replayCurrent(ctx context.Context, log *slog.Logger, deadline time.Time, providerCallID string, tenant tenants.Tenant) telephony.VoiceResponse {
	call, err := o.Calls.GetByProviderID(ctx, providerCallID)
	if err != nil {
		log.Error("reload call failed", "err", err)
		return o.apology()
	}
	return o.replay(ctx, log, deadline, call, tenant)
}

func (o *Orchestrator) apology() telephony.VoiceResponse {
	return *telephony.NewResponse().Say(apologyLine).Hangup()
}
