// Package orchestrator coordinates capture, recognition, completion
// streaming, synthesis and playback for one conversation turn at a time,
// persisting messages at defined checkpoints.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/MuChengZJU/RPChat/internal/audio"
	"github.com/MuChengZJU/RPChat/internal/events"
	"github.com/MuChengZJU/RPChat/internal/llm"
	"github.com/MuChengZJU/RPChat/internal/store"
	"github.com/MuChengZJU/RPChat/internal/stt"
	"github.com/MuChengZJU/RPChat/internal/tts"
)

// Orchestrator drives the turn state machine. One instance serves all
// sessions, but each session has at most one active turn; a second turn
// request is rejected with ErrBusy, never queued.
type Orchestrator struct {
	store   store.Store
	llm     CompletionStreamer
	stt     stt.Recognizer
	tts     tts.Synthesizer
	capture audio.CaptureSource
	sinks   SinkOpener
	bus     *events.Bus
	cfg     Config

	mu    sync.Mutex
	turns map[string]*turn
}

// turn is the transient context of one in-flight turn. It is discarded at
// turn end and never persisted.
type turn struct {
	sessionID string
	voice     bool
	state     State
	cancel    context.CancelFunc
	// interrupted marks a barge-in (resume listening after cleanup);
	// cancelled marks a plain cancel (always back to idle).
	interrupted bool
	cancelled   bool
	sink        audio.PlaybackSink
	// assistant is the pending assistant ordinal, 0 while none exists.
	assistant int64
}

// New wires an orchestrator. All collaborators are injected; the
// orchestrator owns no devices directly.
func New(st store.Store, completer CompletionStreamer, recognizer stt.Recognizer, synth tts.Synthesizer, capture audio.CaptureSource, sinks SinkOpener, bus *events.Bus, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:   st,
		llm:     completer,
		stt:     recognizer,
		tts:     synth,
		capture: capture,
		sinks:   sinks,
		bus:     bus,
		cfg:     cfg,
		turns:   make(map[string]*turn),
	}
}

// State reports the session's current state; idle when no turn is active.
func (o *Orchestrator) State(sessionID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.turns[sessionID]; ok {
		return t.state
	}
	return StateIdle
}

// StartVoiceTurn begins a capture-recognize-complete-speak cycle.
func (o *Orchestrator) StartVoiceTurn(sessionID string) error {
	if _, err := o.store.GetSession(context.Background(), sessionID); err != nil {
		return err
	}
	t, ctx, err := o.beginTurn(sessionID, true)
	if err != nil {
		return err
	}
	go o.runVoiceTurn(ctx, t)
	return nil
}

// StartTextTurn appends the user's text and streams a completion. Voice
// output is off for text turns.
func (o *Orchestrator) StartTextTurn(sessionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("orchestrator: empty text")
	}
	if _, err := o.store.GetSession(context.Background(), sessionID); err != nil {
		return err
	}
	t, ctx, err := o.beginTurn(sessionID, false)
	if err != nil {
		return err
	}
	go o.runTextTurn(ctx, t, text)
	return nil
}

// Interrupt is the barge-in command. It is accepted from every non-idle
// state, stops playback immediately, and drives the turn through
// cancelling; a voice turn then reopens the microphone.
func (o *Orchestrator) Interrupt(sessionID string) error {
	return o.stopTurn(sessionID, true)
}

// Cancel aborts the active turn and returns the session to idle without
// resuming capture.
func (o *Orchestrator) Cancel(sessionID string) error {
	return o.stopTurn(sessionID, false)
}

func (o *Orchestrator) stopTurn(sessionID string, bargeIn bool) error {
	o.mu.Lock()
	t, ok := o.turns[sessionID]
	if !ok {
		o.mu.Unlock()
		return ErrNoActiveTurn
	}
	t.state = StateCancelling
	if bargeIn {
		t.interrupted = true
	} else {
		t.cancelled = true
	}
	sink := t.sink
	cancel := t.cancel
	o.mu.Unlock()

	// Drop queued audio first so the interruption is audible immediately,
	// then cancel so every suspension point unwinds.
	if sink != nil {
		sink.Reset()
	}
	cancel()
	return nil
}

// beginTurn registers a new turn or rejects with ErrBusy.
func (o *Orchestrator) beginTurn(sessionID string, voice bool) (*turn, context.Context, error) {
	o.mu.Lock()
	if _, ok := o.turns[sessionID]; ok {
		o.mu.Unlock()
		o.emit(events.Event{Type: events.Busy, SessionID: sessionID})
		return nil, nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &turn{sessionID: sessionID, voice: voice, state: StateIdle, cancel: cancel}
	o.turns[sessionID] = t
	o.mu.Unlock()

	o.emit(events.Event{Type: events.TurnStarted, SessionID: sessionID})
	return t, ctx, nil
}

// endTurn removes the turn from the registry. Finding a different turn
// registered under the same session is an invariant violation.
func (o *Orchestrator) endTurn(t *turn) {
	o.mu.Lock()
	cur, ok := o.turns[t.sessionID]
	if ok && cur != t {
		o.mu.Unlock()
		panic("orchestrator: two turns active for one session")
	}
	delete(o.turns, t.sessionID)
	o.mu.Unlock()
	t.cancel()
}

func (o *Orchestrator) setState(t *turn, s State) {
	o.mu.Lock()
	// Cancelling is sticky: once an interrupt arrived, the turn goroutine
	// must not paper over it with a later transition.
	if t.state != StateCancelling {
		t.state = s
	}
	o.mu.Unlock()
}

func (o *Orchestrator) stopping(t *turn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return t.state == StateCancelling
}

func (o *Orchestrator) setSink(t *turn, s audio.PlaybackSink) {
	o.mu.Lock()
	t.sink = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

func (o *Orchestrator) runVoiceTurn(ctx context.Context, t *turn) {
	o.setState(t, StateListening)
	o.emit(events.Event{Type: events.Listening, SessionID: t.sessionID})

	pcm, err := o.capture.Capture(ctx, audio.CaptureOptions{
		Silence:     o.cfg.Silence,
		NoSpeech:    o.cfg.NoSpeech,
		MaxDuration: o.cfg.MaxUtterance,
	})
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrCancelled) || ctx.Err() != nil:
			o.finishCancelled(t)
		case errors.Is(err, audio.ErrNoSpeech):
			o.emit(events.Event{Type: events.NothingHeard, SessionID: t.sessionID})
			o.endTurn(t)
		case errors.Is(err, audio.ErrDeviceBusy):
			o.emitError(t.sessionID, "device_unavailable", err)
			o.endTurn(t)
		default:
			o.emitError(t.sessionID, "device_unavailable", err)
			o.endTurn(t)
		}
		return
	}

	o.setState(t, StateRecognizing)
	text, err := o.stt.Recognize(ctx, pcm)
	if ctx.Err() != nil {
		o.finishCancelled(t)
		return
	}
	if errors.Is(err, stt.ErrNoSpeech) {
		o.emit(events.Event{Type: events.NothingHeard, SessionID: t.sessionID})
		o.endTurn(t)
		return
	}
	if err != nil {
		o.emitError(t.sessionID, "recognition_failed", err)
		o.endTurn(t)
		return
	}
	o.emit(events.Event{Type: events.Recognized, SessionID: t.sessionID, Text: text})

	o.runCompletion(ctx, t, text)
}

func (o *Orchestrator) runTextTurn(ctx context.Context, t *turn, text string) {
	o.runCompletion(ctx, t, text)
}

// runCompletion appends the user message, streams the assistant reply into
// a pending message, and (voice mode) speaks it chunk by chunk.
func (o *Orchestrator) runCompletion(ctx context.Context, t *turn, userText string) {
	userMsg, err := o.store.Append(ctx, t.sessionID, store.RoleUser, userText, store.StatusComplete)
	if err != nil {
		if ctx.Err() != nil {
			// A cancel racing the append is a cancel, not a failure.
			o.finishCancelled(t)
			return
		}
		o.emitError(t.sessionID, "internal", err)
		o.endTurn(t)
		return
	}
	if userMsg.Ordinal == 1 {
		o.deriveTitle(ctx, t.sessionID, userText)
	}

	o.setState(t, StateAwaitingCompletion)

	history, err := o.buildHistory(ctx, t.sessionID)
	if err != nil {
		if ctx.Err() != nil {
			o.finishCancelled(t)
			return
		}
		o.emitError(t.sessionID, "internal", err)
		o.endTurn(t)
		return
	}

	asst, err := o.store.Append(ctx, t.sessionID, store.RoleAssistant, "", store.StatusPending)
	if err != nil {
		if errors.Is(err, store.ErrPendingExists) {
			// The state machine cannot produce this; a second pending
			// message means a programming error, not a runtime condition.
			panic("orchestrator: pending assistant message already exists: " + t.sessionID)
		}
		if ctx.Err() != nil {
			o.finishCancelled(t)
			return
		}
		o.emitError(t.sessionID, "internal", err)
		o.endTurn(t)
		return
	}
	o.mu.Lock()
	t.assistant = asst.Ordinal
	o.mu.Unlock()

	deltaCh, errCh := o.llm.Stream(ctx, history, llm.Params{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})

	var content strings.Builder
	var chunker sentenceChunker
	interrupted := false
	var speakErr error

	for delta := range deltaCh {
		if o.stopping(t) || ctx.Err() != nil {
			// Late-arriving deltas after cancel are discarded, never
			// appended.
			interrupted = true
			break
		}
		content.WriteString(delta)
		if err := o.store.UpdateContent(ctx, t.sessionID, asst.Ordinal, content.String()); err != nil {
			log.Printf("orchestrator: delta persist failed: %v", err)
		} else {
			o.emit(events.Event{Type: events.CompletionDelta, SessionID: t.sessionID, Text: delta})
		}
		if t.voice {
			for _, chunk := range chunker.Add(delta) {
				if err := o.speakChunk(ctx, t, chunk); err != nil {
					if errors.Is(err, errTurnStopped) {
						interrupted = true
					} else {
						// No speaker means no voice turn: stop the stream
						// and abort instead of finishing silently.
						speakErr = err
						t.cancel()
					}
					break
				}
			}
			if interrupted || speakErr != nil {
				break
			}
		}
	}

	streamErr := <-errCh
	if interrupted || o.stopping(t) || (speakErr == nil && (ctx.Err() != nil || errors.Is(streamErr, context.Canceled))) {
		o.finishCancelled(t)
		return
	}
	if speakErr != nil {
		o.finishSpeakerLost(t, asst.Ordinal, speakErr)
		return
	}
	if streamErr != nil {
		o.closeSink(t)
		if err := o.store.Finalize(ctx, t.sessionID, asst.Ordinal, store.StatusFailed); err != nil {
			log.Printf("orchestrator: finalize failed message: %v", err)
		}
		o.emitError(t.sessionID, errorKind(streamErr), streamErr)
		o.endTurn(t)
		return
	}

	if t.voice {
		if tail := chunker.Flush(); tail != "" {
			if err := o.speakChunk(ctx, t, tail); err != nil {
				if errors.Is(err, errTurnStopped) {
					o.finishCancelled(t)
					return
				}
				o.finishSpeakerLost(t, asst.Ordinal, err)
				return
			}
		}
		if !o.drainPlayback(ctx, t) {
			o.finishCancelled(t)
			return
		}
	}

	if err := o.store.Finalize(context.Background(), t.sessionID, asst.Ordinal, store.StatusComplete); err != nil {
		log.Printf("orchestrator: finalize complete message: %v", err)
	}
	o.emit(events.Event{Type: events.CompletionDone, SessionID: t.sessionID, Text: content.String()})
	o.closeSink(t)

	resume := t.voice && o.cfg.AutoResume
	o.endTurn(t)
	if resume {
		// Natural playback completion only; an interrupted turn never
		// auto-resumes, to avoid capturing the user's interrupting speech.
		if err := o.StartVoiceTurn(t.sessionID); err != nil && !errors.Is(err, ErrBusy) {
			log.Printf("orchestrator: auto-resume failed: %v", err)
		}
	}
}

// errTurnStopped reports that a speak step ended because the turn was
// interrupted or cancelled, as opposed to a device failure.
var errTurnStopped = errors.New("orchestrator: turn stopped")

// speakChunk synthesizes one sentence and feeds it to the playback sink,
// opening the sink on first use. A failed speaker acquisition is returned
// to the caller, which aborts the turn.
func (o *Orchestrator) speakChunk(ctx context.Context, t *turn, chunk string) error {
	o.mu.Lock()
	sink := t.sink
	o.mu.Unlock()
	if sink == nil {
		s, err := o.sinks.Open()
		if err != nil {
			return fmt.Errorf("open speaker: %w", err)
		}
		sink = s
		o.setSink(t, s)
	}

	pcmCh, errCh := o.tts.StreamPCM(ctx, chunk)
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) > 0 && !o.stopping(t) {
				sink.WritePCM(b)
			}
		case e, ok := <-errCh:
			if ok && e != nil && ctx.Err() == nil {
				log.Printf("tts stream error: %v", e)
			}
			openErr = false
		case <-ctx.Done():
			return errTurnStopped
		}
	}
	if o.stopping(t) || ctx.Err() != nil {
		return errTurnStopped
	}
	return nil
}

// finishSpeakerLost aborts a voice turn whose playback device could not be
// acquired: the assistant message keeps the streamed content but finalizes
// failed, and a single device_unavailable error is surfaced.
func (o *Orchestrator) finishSpeakerLost(t *turn, asst int64, speakErr error) {
	o.closeSink(t)
	if err := o.store.Finalize(context.Background(), t.sessionID, asst, store.StatusFailed); err != nil && !errors.Is(err, store.ErrFinalized) {
		log.Printf("orchestrator: finalize failed message: %v", err)
	}
	o.emitError(t.sessionID, "device_unavailable", speakErr)
	o.endTurn(t)
}

// drainPlayback enters Speaking and waits for queued audio to play out.
// Returns false when an interrupt cut playback short.
func (o *Orchestrator) drainPlayback(ctx context.Context, t *turn) bool {
	o.mu.Lock()
	sink := t.sink
	o.mu.Unlock()
	if sink == nil {
		return true
	}
	o.setState(t, StateSpeaking)
	o.emit(events.Event{Type: events.Speaking, SessionID: t.sessionID})
	sink.FlushTail()
	if err := sink.Drain(ctx); err != nil {
		return false
	}
	return !o.stopping(t)
}

// finishCancelled is the Cancelling exit path: release audio, finalize the
// pending assistant message as interrupted (keeping partial content), then
// either return to idle or reopen the microphone after a barge-in.
func (o *Orchestrator) finishCancelled(t *turn) {
	o.mu.Lock()
	bargeIn := t.interrupted && t.voice && !t.cancelled
	asst := t.assistant
	sink := t.sink
	t.sink = nil
	o.mu.Unlock()

	if sink != nil {
		sink.Reset()
		sink.Close()
	}
	if asst != 0 {
		// The turn context is already cancelled; the write must still land.
		if err := o.store.Finalize(context.Background(), t.sessionID, asst, store.StatusInterrupted); err != nil && !errors.Is(err, store.ErrFinalized) {
			log.Printf("orchestrator: finalize interrupted message: %v", err)
		}
	}
	o.emit(events.Event{Type: events.Interrupted, SessionID: t.sessionID})
	o.endTurn(t)

	if bargeIn {
		if err := o.StartVoiceTurn(t.sessionID); err != nil && !errors.Is(err, ErrBusy) {
			log.Printf("orchestrator: resume after barge-in failed: %v", err)
		}
	}
}

func (o *Orchestrator) closeSink(t *turn) {
	o.mu.Lock()
	sink := t.sink
	t.sink = nil
	o.mu.Unlock()
	if sink != nil {
		sink.Close()
	}
}

// buildHistory assembles the role/content history for the completion
// request: the configured system prompt, then every complete message plus
// interrupted assistant messages (the user heard that much), in order.
func (o *Orchestrator) buildHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	msgs, err := o.store.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var history []llm.Message
	if o.cfg.SystemPrompt != "" {
		history = append(history, llm.Message{Role: string(store.RoleSystem), Content: o.cfg.SystemPrompt})
	}
	for _, m := range msgs {
		switch m.Status {
		case store.StatusComplete:
		case store.StatusInterrupted:
			if m.Role != store.RoleAssistant || m.Content == "" {
				continue
			}
		default:
			continue
		}
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return history, nil
}

// deriveTitle names a fresh session after its first user message.
func (o *Orchestrator) deriveTitle(ctx context.Context, sessionID, text string) {
	title := strings.TrimSpace(text)
	if utf8.RuneCountInString(title) > 30 {
		runes := []rune(title)
		title = string(runes[:30]) + "…"
	}
	if err := o.store.RenameSession(ctx, sessionID, title); err != nil {
		log.Printf("orchestrator: derive title: %v", err)
	}
}

func (o *Orchestrator) emitError(sessionID, kind string, err error) {
	log.Printf("orchestrator: %s: %v", kind, err)
	o.emit(events.Event{Type: events.Error, SessionID: sessionID, ErrorKind: kind, Text: err.Error()})
}

func errorKind(err error) string {
	var ne *llm.NetworkError
	var pe *llm.ProtocolError
	switch {
	case errors.As(err, &ne):
		return "network_error"
	case errors.As(err, &pe):
		return "protocol_error"
	default:
		return "network_error"
	}
}
