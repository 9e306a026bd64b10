package chat

import (
	"context"
	"errors"
	"fmt"
)

// AlreadyRatedError rejects a second rating locally, before any
// request leaves the client.
type AlreadyRatedError struct {
	MessageID string
}

func (e *AlreadyRatedError) Error() string {
	return fmt.Sprintf("message %s already rated", e.MessageID)
}

type rater interface {
	RateMessage(ctx context.Context, id string, rating int, feedback string) error
}

// ErrRatingInFlight rejects a second attempt while an earlier one is
// still waiting on the server.
var ErrRatingInFlight = errors.New("a rating for this message is already in flight")

// RatingGate enforces at-most-once rating per message. The local state
// commits only after the server accepts, so a failed call leaves the
// message ratable. While an attempt waits on the server the message is
// marked in flight, so a second attempt cannot slip through the gap
// between check and commit.
type RatingGate struct {
	store    *Store
	api      rater
	inFlight map[string]bool
}

func NewRatingGate(store *Store, api rater) *RatingGate {
	return &RatingGate{store: store, api: api, inFlight: make(map[string]bool)}
}

// Check runs the local guard without touching the network and claims
// the in-flight slot for the message. Callers that split the server
// call into an async command run Check on the event loop first, then
// Commit once the server accepts or Release when it refuses.
func (g *RatingGate) Check(messageID string, value int) error {
	if value != -1 && value != 1 {
		return fmt.Errorf("rating must be -1 or 1, got %d", value)
	}
	m, ok := g.store.Get(messageID)
	if !ok {
		return fmt.Errorf("unknown message %s", messageID)
	}
	if m.Role != RoleAssistant || m.Streaming {
		return fmt.Errorf("message %s is not a completed response", messageID)
	}
	if m.Rating != 0 {
		return &AlreadyRatedError{MessageID: messageID}
	}
	if g.inFlight[messageID] {
		return ErrRatingInFlight
	}
	g.inFlight[messageID] = true
	return nil
}

// Commit records a rating the server has accepted.
func (g *RatingGate) Commit(messageID string, value int, feedback string) {
	delete(g.inFlight, messageID)
	g.store.UpdateByID(messageID, func(m *Message) {
		m.Rating = value
		m.RatingFeedback = feedback
	})
}

// Release frees a claimed attempt after the server refused it. The
// message stays ratable.
func (g *RatingGate) Release(messageID string) {
	delete(g.inFlight, messageID)
}

func (g *RatingGate) Rate(ctx context.Context, messageID string, value int, feedback string) error {
	if err := g.Check(messageID, value); err != nil {
		return err
	}
	if err := g.api.RateMessage(ctx, messageID, value, feedback); err != nil {
		g.Release(messageID)
		return err
	}
	g.Commit(messageID, value, feedback)
	return nil
}
