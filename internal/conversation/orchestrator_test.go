package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/config"
	"voice-receptionist/internal/dialogue"
	"voice-receptionist/internal/pricing"
	"voice-receptionist/internal/speech"
	"voice-receptionist/internal/telephony"
	"voice-receptionist/internal/tenants"
)

const baseURL = "https://voice.test"

var acme = tenants.Tenant{
	ID:             "t-acme",
	BusinessName:   "Acme Plumbing",
	BusinessType:   "plumbing",
	AssignedNumber: "+15550002222",
	Voice:          "nova",
}

type fakePolicy struct {
	mu      sync.Mutex
	err     error
	hang    bool
	calls   int
	latest  []string
	history [][]dialogue.Message
}

func (p *fakePolicy) Respond(ctx context.Context, t tenants.Tenant, history []dialogue.Message, latest string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.latest = append(p.latest, latest)
	p.history = append(p.history, history)
	if p.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("Reply %d.", p.calls), nil
}

type fakeSpeech struct {
	err   error
	hang  bool
	calls atomic.Int32
}

func (s *fakeSpeech) Audio(ctx context.Context, callID, text string, voice speech.Voice) ([]byte, error) {
	s.calls.Add(1)
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte("mp3:" + callID + ":" + string(voice) + ":" + text), nil
}

type countingNotifier struct {
	mu    sync.Mutex
	calls []calls.Call
}

func (n *countingNotifier) Notify(ctx context.Context, c calls.Call) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type failingAppendRepo struct {
	*calls.MemoryRepo
}

func (r failingAppendRepo) AppendTurn(ctx context.Context, w calls.TurnWrite) error {
	return errors.New("connection reset")
}

type harness struct {
	o        *Orchestrator
	repo     *calls.MemoryRepo
	policy   *fakePolicy
	speech   *fakeSpeech
	notifier *countingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tokens, err := auth.NewMediaTokenManager(config.MediaConfig{SigningSecret: "test-secret", TokenTTL: time.Minute})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	est, err := pricing.NewEstimator(pricing.MinuteRate{Currency: "USD", RatePerMinuteMicros: 8500, BillingIncrementSeconds: 1})
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}

	h := &harness{
		repo:     calls.NewMemoryRepo(),
		policy:   &fakePolicy{},
		speech:   &fakeSpeech{},
		notifier: &countingNotifier{},
	}
	h.o = NewOrchestrator(h.repo, tenants.NewMemoryDirectory(acme), h.policy, h.speech, tokens, baseURL, Options{})
	h.o.Notifier = h.notifier
	h.o.Costs = est
	return h
}

func valid(t *testing.T, r telephony.VoiceResponse) telephony.VoiceResponse {
	t.Helper()
	if err := r.Validate(); err != nil {
		t.Fatalf("invalid response %v: %v", r.Kinds(), err)
	}
	if _, err := telephony.RenderTwiML(r, telephony.RenderOptions{SayVoice: "Polly.Joanna"}); err != nil {
		t.Fatalf("render: %v", err)
	}
	return r
}

func expectListen(t *testing.T, r telephony.VoiceResponse, turn int) {
	t.Helper()
	l, ok := r.ListenInstruction()
	if !ok {
		t.Fatalf("expected listen, got %v", r.Kinds())
	}
	if l.ActionURL != telephony.GatherURL(baseURL, turn) {
		t.Fatalf("expected listen for turn %d, got %s", turn, l.ActionURL)
	}
	if l.TimeoutSeconds != 5 || l.SpeechTimeout != "auto" {
		t.Fatalf("unexpected listen tuning: %+v", l)
	}
}

func tokenFrom(t *testing.T, audioURL string) string {
	t.Helper()
	u, err := url.Parse(audioURL)
	if err != nil {
		t.Fatalf("parse audio url: %v", err)
	}
	if !strings.HasPrefix(audioURL, baseURL+telephony.PathAudio) {
		t.Fatalf("unexpected audio url %s", audioURL)
	}
	return u.Query().Get("token")
}

func inbound(sid string) telephony.InboundCall {
	return telephony.InboundCall{ProviderCallID: sid, From: "+15550001111", To: acme.AssignedNumber}
}

func said(sid string, turn int, text string) telephony.SpeechResult {
	return telephony.SpeechResult{ProviderCallID: sid, Turn: turn, Speech: text}
}

func TestOrchestrator_AcmeCallEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := valid(t, h.o.HandleInbound(ctx, inbound("CA100")))
	if got := r.Kinds(); strings.Join(got, ",") != "speak,listen" {
		t.Fatalf("unexpected greeting kinds %v", got)
	}
	expectListen(t, r, 0)

	greetToken := tokenFrom(t, r.Speaks()[0].AudioURL)
	call, err := h.repo.GetByProviderID(ctx, "CA100")
	if err != nil {
		t.Fatalf("call not created: %v", err)
	}
	audio, err := h.o.Audio(ctx, greetToken)
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if string(audio) != "mp3:"+call.ID+":nova:Thank you for calling Acme Plumbing. How can I help you today?" {
		t.Fatalf("unexpected greeting audio %q", audio)
	}

	r = valid(t, h.o.HandleSpeech(ctx, said("CA100", 0, "Hi, my water heater is leaking.")))
	expectListen(t, r, 1)
	r = valid(t, h.o.HandleSpeech(ctx, said("CA100", 1, "Please call me back, this is Dana.")))
	expectListen(t, r, 2)

	if len(h.policy.history[0]) != 0 || h.policy.latest[0] != "Hi, my water heater is leaking." {
		t.Fatalf("expected empty history and first utterance, got %+v / %q", h.policy.history[0], h.policy.latest[0])
	}
	if len(h.policy.history[1]) != 2 || h.policy.latest[1] != "Please call me back, this is Dana." {
		t.Fatalf("expected prior turn as history, got %+v / %q", h.policy.history[1], h.policy.latest[1])
	}

	if err := h.o.HandleStatus(ctx, telephony.StatusUpdate{ProviderCallID: "CA100", Status: "completed", DurationSeconds: 42, RecordingURL: "https://rec/1"}); err != nil {
		t.Fatalf("status: %v", err)
	}

	call, _ = h.repo.GetByProviderID(ctx, "CA100")
	if call.Status != calls.CallStatusCompleted || call.State != calls.StateTerminated || call.DurationSeconds != 42 {
		t.Fatalf("unexpected final call: %+v", call)
	}
	if call.ProviderCostMicros != 5950 || call.RecordingURL != "https://rec/1" || call.EndedAt == nil {
		t.Fatalf("unexpected finalization: %+v", call)
	}

	entries, _ := h.repo.ListEntries(ctx, call.ID)
	want := "Caller: Hi, my water heater is leaking.\nAI: Reply 1.\n\nCaller: Please call me back, this is Dana.\nAI: Reply 2."
	if got := calls.FlattenTranscript(entries); got != want {
		t.Fatalf("unexpected transcript:\n%s", got)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", h.notifier.count())
	}
}

func TestOrchestrator_UnknownTenantWritesNothing(t *testing.T) {
	h := newHarness(t)
	r := valid(t, h.o.HandleInbound(context.Background(), telephony.InboundCall{ProviderCallID: "CA1", From: "+1555", To: "+19998887777"}))

	speaks := r.Speaks()
	if len(speaks) != 1 || speaks[0].Text != notActiveLine || !r.EndsWithHangup() {
		t.Fatalf("unexpected response %+v", r)
	}
	if h.repo.Count() != 0 {
		t.Fatalf("expected no call rows, got %d", h.repo.Count())
	}
}

func TestOrchestrator_DuplicateInboundReplaysWithoutWriting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "Are you open Sunday?")))

	r := valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	expectListen(t, r, 1)
	if h.repo.Count() != 1 {
		t.Fatalf("expected one call row, got %d", h.repo.Count())
	}
}

func TestOrchestrator_DuplicateSpeechReplaysLastLine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	first := valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "I need a quote")))
	again := valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "I need a quote")))

	if h.policy.calls != 1 {
		t.Fatalf("expected policy invoked once, got %d", h.policy.calls)
	}
	call, _ := h.repo.GetByProviderID(ctx, "CA1")
	entries, _ := h.repo.ListEntries(ctx, call.ID)
	if len(entries) != 2 || call.TurnIndex != 1 {
		t.Fatalf("expected a single turn, got %d entries at turn %d", len(entries), call.TurnIndex)
	}
	expectListen(t, again, 1)

	// Same utterance, same cache entry: both tokens name the same audio.
	a, _ := h.o.Audio(ctx, tokenFrom(t, first.Speaks()[0].AudioURL))
	b, _ := h.o.Audio(ctx, tokenFrom(t, again.Speaks()[0].AudioURL))
	if string(a) != string(b) || !strings.HasSuffix(string(a), "Reply 1.") {
		t.Fatalf("expected replay of last agent line, got %q vs %q", a, b)
	}
}

func TestOrchestrator_ThreeSilencesCloseTheCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	r1 := valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "")))
	expectListen(t, r1, 1)
	r2 := valid(t, h.o.HandleSpeech(ctx, said("CA1", 1, "  ")))
	expectListen(t, r2, 2)
	r3 := valid(t, h.o.HandleSpeech(ctx, said("CA1", 2, "")))

	if _, ok := r3.ListenInstruction(); ok || !r3.EndsWithHangup() {
		t.Fatalf("expected closing + hangup, got %v", r3.Kinds())
	}
	if h.policy.calls != 2 {
		t.Fatalf("expected policy skipped for the closing turn, got %d calls", h.policy.calls)
	}
	if h.policy.latest[0] != calls.NoSpeech {
		t.Fatalf("expected placeholder passed as caller message, got %q", h.policy.latest[0])
	}

	call, _ := h.repo.GetByProviderID(ctx, "CA1")
	if call.State != calls.StateEnding || call.SilenceCount != 3 {
		t.Fatalf("unexpected call after silence: %+v", call)
	}
	entries, _ := h.repo.ListEntries(ctx, call.ID)
	if len(entries) != 6 || entries[5].Message != defaultClosingLine || entries[4].Message != calls.NoSpeech {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	late := valid(t, h.o.HandleSpeech(ctx, said("CA1", 3, "hello?")))
	if strings.Join(late.Kinds(), ",") != "hangup" {
		t.Fatalf("expected hangup for ended call, got %v", late.Kinds())
	}
}

func TestOrchestrator_SpeechResetsSilenceCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "")))
	valid(t, h.o.HandleSpeech(ctx, said("CA1", 1, "")))
	valid(t, h.o.HandleSpeech(ctx, said("CA1", 2, "Sorry, bad line. Are you open?")))
	r := valid(t, h.o.HandleSpeech(ctx, said("CA1", 3, "")))
	expectListen(t, r, 4)

	call, _ := h.repo.GetByProviderID(ctx, "CA1")
	if call.SilenceCount != 1 || call.State != calls.StateAwaitingInput {
		t.Fatalf("expected silence reset by speech, got %+v", call)
	}
}

func TestOrchestrator_DialogueUnavailableUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.policy.err = fmt.Errorf("%w: timeout", dialogue.ErrDialogueUnavailable)
	ctx := context.Background()

	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	r := valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "Hello?")))
	expectListen(t, r, 1)

	call, _ := h.repo.GetByProviderID(ctx, "CA1")
	entries, _ := h.repo.ListEntries(ctx, call.ID)
	if len(entries) != 2 || entries[0].Speaker != calls.SpeakerCaller || entries[1].Message != defaultFallbackLine {
		t.Fatalf("expected paired fallback turn, got %+v", entries)
	}
}

func TestOrchestrator_SynthesisFailureFallsBackToSay(t *testing.T) {
	h := newHarness(t)
	h.speech.err = speech.ErrSynthesisUnavailable
	ctx := context.Background()

	r := valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	if s := r.Speaks(); len(s) != 1 || s[0].AudioURL != "" || s[0].Text != acme.Greeting() {
		t.Fatalf("expected spoken greeting, got %+v", s)
	}
	r = valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "Hi")))
	if s := r.Speaks(); len(s) != 1 || s[0].Text != "Reply 1." {
		t.Fatalf("expected spoken reply, got %+v", s)
	}
	expectListen(t, r, 1)
}

func TestOrchestrator_PersistenceFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.o.Calls = failingAppendRepo{h.repo}
	ctx := context.Background()

	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))
	r := valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "Hi")))
	if s := r.Speaks(); len(s) != 1 || s[0].Text != apologyLine || !r.EndsWithHangup() {
		t.Fatalf("expected apology + hangup, got %+v", r)
	}
}

func TestOrchestrator_UnknownCallSpeechApologizes(t *testing.T) {
	h := newHarness(t)
	r := valid(t, h.o.HandleSpeech(context.Background(), said("nope", 0, "hi")))
	if s := r.Speaks(); len(s) != 1 || s[0].Text != apologyLine || !r.EndsWithHangup() {
		t.Fatalf("expected apology + hangup, got %+v", r)
	}
}

func TestOrchestrator_StatusNotifiesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.o.HandleStatus(ctx, telephony.StatusUpdate{ProviderCallID: "CA1", Status: "completed", DurationSeconds: 30}); err != nil {
				t.Errorf("status: %v", err)
			}
		}()
	}
	wg.Wait()

	if h.notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", h.notifier.count())
	}
}

func TestOrchestrator_StatusEdgeCases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	valid(t, h.o.HandleInbound(ctx, inbound("CA1")))

	if err := h.o.HandleStatus(ctx, telephony.StatusUpdate{ProviderCallID: "CA1", Status: "ringing"}); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	call, _ := h.repo.GetByProviderID(ctx, "CA1")
	if call.Status != calls.CallStatusInProgress {
		t.Fatalf("expected progress status ignored, got %s", call.Status)
	}

	if err := h.o.HandleStatus(ctx, telephony.StatusUpdate{ProviderCallID: "unknown", Status: "completed"}); err != nil {
		t.Fatalf("unknown call should be acknowledged, got %v", err)
	}

	if err := h.o.HandleStatus(ctx, telephony.StatusUpdate{ProviderCallID: "CA1", Status: "busy"}); err != nil {
		t.Fatalf("busy: %v", err)
	}
	call, _ = h.repo.GetByProviderID(ctx, "CA1")
	if call.Status != calls.CallStatusFailed {
		t.Fatalf("expected busy mapped to failed, got %s", call.Status)
	}
	if h.notifier.count() != 0 {
		t.Fatalf("expected no notification for failed call")
	}

	r := valid(t, h.o.HandleSpeech(ctx, said("CA1", 0, "still there?")))
	if strings.Join(r.Kinds(), ",") != "hangup" {
		t.Fatalf("expected hangup after finalize, got %v", r.Kinds())
	}
}

func TestOrchestrator_AudioRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	if _, err := h.o.Audio(context.Background(), "not-a-token"); !errors.Is(err, auth.ErrInvalidMediaToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	other, _ := auth.NewMediaTokenManager(config.MediaConfig{SigningSecret: "other", TokenTTL: time.Minute})
	forged, _ := other.Issue(time.Now(), "call-1", "nova", "Say anything")
	if _, err := h.o.Audio(context.Background(), forged); !errors.Is(err, auth.ErrInvalidMediaToken) {
		t.Fatalf("expected forged token rejected, got %v", err)
	}
}

func TestTerminalStatus(t *testing.T) {
	cases := map[string]struct {
		want     calls.CallStatus
		terminal bool
	}{
		"completed":   {calls.CallStatusCompleted, true},
		"failed":      {calls.CallStatusFailed, true},
		"busy":        {calls.CallStatusFailed, true},
		"no-answer":   {calls.CallStatusNoAnswer, true},
		"canceled":    {calls.CallStatusNoAnswer, true},
		"in-progress": {"", false},
		"ringing":     {"", false},
		"":            {"", false},
	}
	for in, c := range cases {
		got, ok := terminalStatus(in)
		if got != c.want || ok != c.terminal {
			t.Fatalf("%q: expected %s/%v, got %s/%v", in, c.want, c.terminal, got, ok)
		}
	}
}

func TestOrchestrator_HungUpstreamsShareOneTurnBudget(t *testing.T) {
	cases := []struct {
		name         string
		upstream     time.Duration
		turn         time.Duration
		wantSynthTry bool
	}{
		{name: "synthesis gets the remainder", upstream: 200 * time.Millisecond, turn: 250 * time.Millisecond, wantSynthTry: true},
		{name: "dialogue spends the whole turn", upstream: 200 * time.Millisecond, turn: 200 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			valid(t, h.o.HandleInbound(ctx, inbound("CA800")))

			h.o.Options.UpstreamTimeout = tc.upstream
			h.o.Options.TurnBudget = tc.turn
			h.policy.hang = true
			h.speech.hang = true
			before := h.speech.calls.Load()

			start := time.Now()
			r := valid(t, h.o.HandleSpeech(ctx, said("CA800", 0, "Is anyone there?")))
			if elapsed := time.Since(start); elapsed > tc.turn+100*time.Millisecond {
				t.Fatalf("turn took %v, budget %v", elapsed, tc.turn)
			}

			expectListen(t, r, 1)
			speaks := r.Speaks()
			if len(speaks) != 1 || speaks[0].AudioURL != "" || speaks[0].Text != defaultFallbackLine {
				t.Fatalf("expected platform-voice fallback line, got %+v", speaks)
			}
			if tried := h.speech.calls.Load() > before; tried != tc.wantSynthTry {
				t.Fatalf("synthesis attempted=%v, want %v", tried, tc.wantSynthTry)
			}
		})
	}
}
