package chat

// Store holds the transcript of the active session in arrival order.
// It belongs to the event loop; nothing mutates it off-loop.
type Store struct {
	order []string
	byID  map[string]*Message
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*Message)}
}

func (s *Store) Append(m Message) {
	cp := m
	s.order = append(s.order, cp.ID)
	s.byID[cp.ID] = &cp
}

// UpdateByID applies fn to the stored message in place. The closure
// touches only the fields it means to change; everything else is kept.
func (s *Store) UpdateByID(id string, fn func(*Message)) bool {
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	fn(m)
	return true
}

// Final is the payload that replaces a streaming placeholder once the
// stream finishes.
type Final struct {
	Content string
	Sources []Source
	Actions []Action
}

// ReplaceIdentity swaps a placeholder's client-generated id for the
// server-assigned one and installs the final payload. An empty newID
// keeps the client id. Position in the transcript never changes.
func (s *Store) ReplaceIdentity(oldID, newID string, fin Final) bool {
	m, ok := s.byID[oldID]
	if !ok {
		return false
	}
	m.Content = fin.Content
	m.Sources = fin.Sources
	m.Actions = fin.Actions
	m.Streaming = false
	if newID == "" || newID == oldID {
		return true
	}
	m.ID = newID
	delete(s.byID, oldID)
	s.byID[newID] = m
	for i, id := range s.order {
		if id == oldID {
			s.order[i] = newID
			break
		}
	}
	return true
}

func (s *Store) ReplaceAll(msgs []Message) {
	s.order = s.order[:0]
	s.byID = make(map[string]*Message, len(msgs))
	for _, m := range msgs {
		s.Append(m)
	}
}

func (s *Store) Clear() {
	s.order = nil
	s.byID = make(map[string]*Message)
}

func (s *Store) Get(id string) (Message, bool) {
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

func (s *Store) Len() int { return len(s.order) }

// Messages returns the transcript as value copies in order.
func (s *Store) Messages() []Message {
	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// LastAssistant returns the newest completed assistant message.
func (s *Store) LastAssistant() (Message, bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.byID[s.order[i]]
		if m.Role == RoleAssistant && !m.Streaming {
			return *m, true
		}
	}
	return Message{}, false
}

// LastPendingClarification returns the newest clarification still
// awaiting a response.
func (s *Store) LastPendingClarification() (Message, bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.byID[s.order[i]]
		if m.IsClarification && m.ClarificationStatus == ClarificationPending {
			return *m, true
		}
	}
	return Message{}, false
}
