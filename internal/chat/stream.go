package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
)

type StreamPhase int

const (
	StreamIdle StreamPhase = iota
	StreamStreaming
	StreamFinalizing
	StreamErrored
	StreamCancelled
)

func (p StreamPhase) String() string {
	switch p {
	case StreamStreaming:
		return "streaming"
	case StreamFinalizing:
		return "finalizing"
	case StreamErrored:
		return "errored"
	case StreamCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

var ErrStreamInFlight = errors.New("a response is already streaming")

// Outcome is what folding one chunk produced.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeFinalized
	OutcomeErrored
)

// streamState is the per-session accumulation for one in-flight
// response. Owning the state per session keeps chunk routing explicit:
// a chunk can only ever touch the stream it belongs to.
type streamState struct {
	phase         StreamPhase
	placeholderID string
	input         string
	content       strings.Builder
	sources       []Source
	actions       []Action
	phaseLabel    string
	cancel        func()
}

// Consumer folds stream chunks into the Store. It runs on the event
// loop; transport goroutines never call it directly.
type Consumer struct {
	store   *Store
	health  *HealthMonitor
	retry   *RetryCoordinator
	streams map[string]*streamState
	active  string
}

func NewConsumer(store *Store, health *HealthMonitor, retry *RetryCoordinator) *Consumer {
	return &Consumer{
		store:   store,
		health:  health,
		retry:   retry,
		streams: make(map[string]*streamState),
	}
}

func (c *Consumer) Streaming() bool { return c.active != "" }

// ActiveSession returns the session whose stream is in flight.
func (c *Consumer) ActiveSession() string { return c.active }

func (c *Consumer) PhaseLabel() string {
	st, ok := c.streams[c.active]
	if !ok {
		return ""
	}
	return st.phaseLabel
}

// Begin claims the stream slot. Only one stream may be in flight
// across all sessions.
func (c *Consumer) Begin(sessionID, placeholderID, input string, cancel func()) error {
	if c.active != "" {
		return ErrStreamInFlight
	}
	c.streams[sessionID] = &streamState{
		phase:         StreamStreaming,
		placeholderID: placeholderID,
		input:         input,
		cancel:        cancel,
	}
	c.active = sessionID
	return nil
}

// Fold applies one chunk to the session's stream. Chunks arriving for
// a session with no live stream, or after a terminal transition, are
// dropped.
func (c *Consumer) Fold(sessionID string, chunk api.Chunk) (Outcome, string) {
	st, ok := c.streams[sessionID]
	if !ok || st.phase != StreamStreaming {
		return OutcomeContinue, ""
	}

	switch ch := chunk.(type) {
	case api.TokenChunk:
		st.content.WriteString(ch.Content)
		partial := st.content.String()
		c.store.UpdateByID(st.placeholderID, func(m *Message) {
			m.Content = partial
		})
		return OutcomeContinue, ""

	case api.SourceChunk:
		st.sources = append(st.sources, FromAPISource(ch.Source))
		sources := append([]Source(nil), st.sources...)
		c.store.UpdateByID(st.placeholderID, func(m *Message) {
			m.Sources = sources
		})
		return OutcomeContinue, ""

	case api.ActionChunk:
		st.actions = append(st.actions, FromAPIAction(ch.Action))
		actions := append([]Action(nil), st.actions...)
		c.store.UpdateByID(st.placeholderID, func(m *Message) {
			m.Actions = actions
		})
		return OutcomeContinue, ""

	case api.PhaseChunk:
		if ch.Label != "" {
			st.phaseLabel = ch.Label
		} else {
			st.phaseLabel = ch.Phase
		}
		return OutcomeContinue, ""

	case api.DoneChunk:
		st.phase = StreamFinalizing
		finalID := ch.MessageID
		c.store.ReplaceIdentity(st.placeholderID, finalID, Final{
			Content: st.content.String(),
			Sources: st.sources,
			Actions: st.actions,
		})
		if finalID == "" {
			finalID = st.placeholderID
		}
		c.retry.ClearOnSuccess()
		c.release(sessionID)
		return OutcomeFinalized, finalID

	case api.ErrorChunk:
		c.fail(sessionID, st, api.ClassifyReason(ch.Reason))
		return OutcomeErrored, ch.Reason
	}
	return OutcomeContinue, ""
}

// Fail ends the stream after a transport-level failure. Whatever
// content already arrived stays in the transcript.
func (c *Consumer) Fail(sessionID string, err error) {
	st, ok := c.streams[sessionID]
	if !ok || st.phase != StreamStreaming {
		return
	}
	c.fail(sessionID, st, err)
}

func (c *Consumer) fail(sessionID string, st *streamState, err error) {
	st.phase = StreamErrored
	c.store.UpdateByID(st.placeholderID, func(m *Message) {
		m.Streaming = false
	})
	c.health.Observe(err)
	if retryable(err) {
		c.retry.Offer(st.input)
	}
	c.release(sessionID)
}

// retryable reports whether resending the same content could plausibly
// succeed. An expired credential rejects the resend too, and a
// user-cancelled request was not a failure.
func retryable(err error) bool {
	var expired *api.SessionExpiredError
	if errors.As(err, &expired) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Cancel stops the stream at the user's request. The transport context
// is cancelled and any chunk still in the pipe is dropped by Fold.
func (c *Consumer) Cancel(sessionID string) {
	st, ok := c.streams[sessionID]
	if !ok || st.phase != StreamStreaming {
		return
	}
	st.phase = StreamCancelled
	if st.cancel != nil {
		st.cancel()
	}
	c.store.UpdateByID(st.placeholderID, func(m *Message) {
		m.Streaming = false
	})
	c.release(sessionID)
}

func (c *Consumer) release(sessionID string) {
	delete(c.streams, sessionID)
	if c.active == sessionID {
		c.active = ""
	}
}
