package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
)

// Archiver receives completed exchanges for local persistence. A nil
// Archiver disables caching without changing behavior.
type Archiver interface {
	SaveSession(s Session) error
	SaveMessages(sessionID string, msgs []Message) error
	DeleteSession(id string) error
}

var ErrSwitchWhileStreaming = errors.New("finish or stop the current response before switching sessions")

// Controller wires the session registry, transcript store, stream
// consumer and the rest of the client core together. All methods are
// event-loop side unless noted; the ones that hit the network take a
// context and are meant to run inside async commands.
type Controller struct {
	API       *api.Client
	Store     *Store
	Registry  *Registry
	Consumer  *Consumer
	Clarifier *Clarifier
	Health    *HealthMonitor
	Retry     *RetryCoordinator
	Gate      *RatingGate

	archive Archiver
	log     *logrus.Entry
}

func NewController(client *api.Client, archive Archiver, log *logrus.Entry) *Controller {
	store := NewStore()
	health := NewHealthMonitor()
	retry := NewRetryCoordinator()
	return &Controller{
		API:       client,
		Store:     store,
		Registry:  NewRegistry(),
		Consumer:  NewConsumer(store, health, retry),
		Clarifier: NewClarifier(store, client),
		Health:    health,
		Retry:     retry,
		Gate:      NewRatingGate(store, client),
		archive:   archive,
		log:       log,
	}
}

// SendPrep is everything an async command needs to open the stream for
// a send that has already been applied to local state.
type SendPrep struct {
	SessionID     string
	PlaceholderID string
	Content       string
	Ctx           context.Context
}

// BeginSend validates the send, appends the user message and the
// assistant placeholder, and claims the stream slot. Runs on the event
// loop; the network half happens afterwards with the returned prep.
func (c *Controller) BeginSend(text string) (SendPrep, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendPrep{}, errors.New("empty message")
	}
	if c.Consumer.Streaming() {
		return SendPrep{}, ErrStreamInFlight
	}
	sessionID := c.Registry.Active()
	if sessionID == "" {
		return SendPrep{}, errors.New("no active session")
	}

	now := time.Now()
	userID := uuid.NewString()
	c.Store.Append(Message{
		ID:        userID,
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   text,
		CreatedAt: now,
	})
	placeholderID := uuid.NewString()
	c.Store.Append(Message{
		ID:        placeholderID,
		SessionID: sessionID,
		Role:      RoleAssistant,
		CreatedAt: now,
		Streaming: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Consumer.Begin(sessionID, placeholderID, text, cancel); err != nil {
		cancel()
		return SendPrep{}, err
	}
	c.log.WithFields(logrus.Fields{"session": sessionID, "placeholder": placeholderID}).
		Debug("send started")
	return SendPrep{
		SessionID:     sessionID,
		PlaceholderID: placeholderID,
		Content:       text,
		Ctx:           ctx,
	}, nil
}

// HandleChunk folds one stream chunk and performs the follow-up work a
// terminal chunk implies.
func (c *Controller) HandleChunk(sessionID string, chunk api.Chunk) (Outcome, string) {
	outcome, detail := c.Consumer.Fold(sessionID, chunk)
	switch outcome {
	case OutcomeFinalized:
		c.Health.ObserveSuccess()
		c.Registry.BumpCounts(sessionID, 2)
		c.archiveSession(sessionID)
	case OutcomeErrored:
		c.log.WithFields(logrus.Fields{"session": sessionID, "reason": detail}).
			Warn("stream failed")
	}
	return outcome, detail
}

// StreamFailed ends the stream after the transport gave up: failure to
// open, a dropped connection, or a protocol violation.
func (c *Controller) StreamFailed(sessionID string, err error) {
	c.Consumer.Fail(sessionID, err)
	c.log.WithField("session", sessionID).WithError(err).Warn("stream transport failed")
}

// StopStream cancels the in-flight response, keeping whatever content
// already arrived.
func (c *Controller) StopStream() {
	active := c.Consumer.ActiveSession()
	if active == "" {
		return
	}
	c.Consumer.Cancel(active)
	c.log.WithField("session", active).Debug("stream cancelled")
}

// BeginSwitch starts a session switch. Switching away from a live
// stream is refused; the user stops it first.
func (c *Controller) BeginSwitch(sessionID string) (uint64, error) {
	if c.Consumer.Streaming() {
		return 0, ErrSwitchWhileStreaming
	}
	return c.Registry.BeginHistoryLoad(sessionID), nil
}

// CommitSessions installs a fetched session list if the load is still
// current. When the refresh shows the active session vanished
// server-side, the transcript is cleared along with the active pointer
// rather than left stale; activeDropped tells the caller to paint the
// empty state.
func (c *Controller) CommitSessions(seq uint64, sessions []Session) (committed, activeDropped bool) {
	hadActive := c.Registry.Active()
	if !c.Registry.CommitSessions(seq, sessions) {
		return false, false
	}
	if hadActive != "" && c.Registry.Active() == "" {
		c.Store.Clear()
		return true, true
	}
	return true, false
}

// CommitHistory installs fetched messages if the load is still
// current.
func (c *Controller) CommitHistory(seq uint64, msgs []Message) bool {
	if !c.Registry.CommitHistory(seq) {
		return false
	}
	c.Store.ReplaceAll(msgs)
	c.Health.ObserveSuccess()
	return true
}

// CreateSession calls the backend; runs inside an async command.
func (c *Controller) CreateSession(ctx context.Context, title string) (Session, error) {
	s, err := c.API.CreateSession(ctx, title)
	if err != nil {
		c.Health.Observe(err)
		return Session{}, err
	}
	return FromAPISession(s), nil
}

// AdoptSession makes a freshly created session active. Event-loop
// side.
func (c *Controller) AdoptSession(s Session) {
	c.Registry.Adopt(s)
	c.Store.Clear()
	c.Health.ObserveSuccess()
	if c.archive != nil {
		if err := c.archive.SaveSession(s); err != nil {
			c.log.WithError(err).Warn("cache session")
		}
	}
}

// DeleteSession removes the session on the backend; the local side is
// applied afterwards via RemoveSession.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	if err := c.API.DeleteSession(ctx, id); err != nil {
		c.Health.Observe(err)
		return err
	}
	return nil
}

// RemoveSession applies a successful delete locally. Clears the
// transcript when the active session went away.
func (c *Controller) RemoveSession(id string) (wasActive bool) {
	wasActive = c.Registry.Remove(id)
	if wasActive {
		c.Store.Clear()
	}
	if c.archive != nil {
		if err := c.archive.DeleteSession(id); err != nil {
			c.log.WithError(err).Warn("evict cached session")
		}
	}
	return wasActive
}

// RenameSession calls the backend; the caller applies the rename
// locally on success.
func (c *Controller) RenameSession(ctx context.Context, id, title string) error {
	if _, err := c.API.RenameSession(ctx, id, title); err != nil {
		c.Health.Observe(err)
		return err
	}
	return nil
}

// FetchSessions loads the session list; runs inside an async command.
func (c *Controller) FetchSessions(ctx context.Context, limit int) ([]Session, error) {
	raw, err := c.API.ListSessions(ctx, limit)
	if err != nil {
		c.Health.Observe(err)
		return nil, err
	}
	out := make([]Session, 0, len(raw))
	for _, s := range raw {
		out = append(out, FromAPISession(s))
	}
	return out, nil
}

// FetchMessages loads a session transcript; runs inside an async
// command.
func (c *Controller) FetchMessages(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := c.API.Messages(ctx, sessionID)
	if err != nil {
		c.Health.Observe(err)
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, FromAPIMessage(m))
	}
	return out, nil
}

func (c *Controller) archiveSession(sessionID string) {
	if c.archive == nil {
		return
	}
	if s, ok := c.Registry.Get(sessionID); ok {
		if err := c.archive.SaveSession(s); err != nil {
			c.log.WithError(err).Warn("cache session")
		}
	}
	if err := c.archive.SaveMessages(sessionID, c.Store.Messages()); err != nil {
		c.log.WithError(err).Warn("cache transcript")
	}
}
