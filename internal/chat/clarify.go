package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
)

type clarifyAPI interface {
	AnswerClarification(ctx context.Context, id, answer string) error
	SkipClarification(ctx context.Context, id string) error
	PendingClarifications(ctx context.Context) (api.PendingCount, error)
}

// Clarifier resolves clarification requests and tracks the pending
// badge. Status transitions are one-way: once a clarification leaves
// pending it never comes back.
type Clarifier struct {
	store *Store
	api   clarifyAPI

	pendingSeq uint64
	count      int
	hasOverdue bool
}

func NewClarifier(store *Store, api clarifyAPI) *Clarifier {
	return &Clarifier{store: store, api: api}
}

// ErrAlreadyResolved marks a resolve attempt against a clarification
// that already reached a terminal state; callers treat it as a no-op.
var ErrAlreadyResolved = errors.New("clarification already resolved")

// Check runs the local guard for answer/skip without touching the
// network.
func (c *Clarifier) Check(messageID string) error {
	m, ok := c.store.Get(messageID)
	if !ok {
		return fmt.Errorf("unknown message %s", messageID)
	}
	if !m.IsClarification {
		return fmt.Errorf("message %s is not a clarification", messageID)
	}
	if m.ClarificationStatus.Terminal() {
		return ErrAlreadyResolved
	}
	return nil
}

// CommitAnswer records a server-accepted answer. The pending badge is
// not touched here: the count is only ever fetched from the server,
// never computed locally.
func (c *Clarifier) CommitAnswer(messageID, answer string) {
	c.store.UpdateByID(messageID, func(m *Message) {
		m.ClarificationStatus = ClarificationAnswered
		m.ClarificationAnswer = answer
	})
}

// CommitSkip records a server-accepted skip.
func (c *Clarifier) CommitSkip(messageID string) {
	c.store.UpdateByID(messageID, func(m *Message) {
		m.ClarificationStatus = ClarificationSkipped
	})
}

// Answer submits the user's answer for a pending clarification. A
// clarification already in a terminal state is left alone. On server
// failure the message stays pending so the user can try again.
func (c *Clarifier) Answer(ctx context.Context, messageID, answer string) error {
	if err := c.Check(messageID); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			return nil
		}
		return err
	}
	if err := c.api.AnswerClarification(ctx, messageID, answer); err != nil {
		return err
	}
	c.CommitAnswer(messageID, answer)
	return nil
}

// Skip marks a pending clarification as declined. Skipping one that is
// already terminal is a no-op.
func (c *Clarifier) Skip(ctx context.Context, messageID string) error {
	if err := c.Check(messageID); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			return nil
		}
		return err
	}
	if err := c.api.SkipClarification(ctx, messageID); err != nil {
		return err
	}
	c.CommitSkip(messageID)
	return nil
}

// BeginPendingRefresh starts an async badge fetch; results presenting
// an older token are dropped.
func (c *Clarifier) BeginPendingRefresh() uint64 {
	c.pendingSeq++
	return c.pendingSeq
}

func (c *Clarifier) CommitPending(seq uint64, pc api.PendingCount) bool {
	if seq != c.pendingSeq {
		return false
	}
	c.count = pc.Count
	c.hasOverdue = pc.HasOverdue
	return true
}

func (c *Clarifier) Pending() (count int, hasOverdue bool) {
	return c.count, c.hasOverdue
}
