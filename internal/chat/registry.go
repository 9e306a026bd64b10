package chat

// Registry tracks the known sessions and which one is active. Async
// fetch results are applied through sequence tokens: each load begins
// by taking a token, and only the result carrying the latest token is
// committed. Anything older is dropped on the floor.
type Registry struct {
	sessions []Session
	active   string

	sessionsSeq uint64
	historySeq  uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// BeginSessionsLoad invalidates every sessions fetch already in flight
// and returns the token the new fetch must present to commit.
func (r *Registry) BeginSessionsLoad() uint64 {
	r.sessionsSeq++
	return r.sessionsSeq
}

// CommitSessions installs the fetched list if seq is still current.
// The server's ordering is preserved as-is.
func (r *Registry) CommitSessions(seq uint64, sessions []Session) bool {
	if seq != r.sessionsSeq {
		return false
	}
	r.sessions = sessions
	if r.active != "" {
		if _, ok := r.Get(r.active); !ok {
			r.active = ""
		}
	}
	return true
}

// BeginHistoryLoad marks a transcript fetch for the given session and
// invalidates any earlier one.
func (r *Registry) BeginHistoryLoad(sessionID string) uint64 {
	r.historySeq++
	r.active = sessionID
	return r.historySeq
}

// CommitHistory reports whether a transcript fetch is still the one
// the user is waiting on. The caller owns the actual store swap.
func (r *Registry) CommitHistory(seq uint64) bool {
	return seq == r.historySeq
}

func (r *Registry) Sessions() []Session { return r.sessions }

func (r *Registry) Active() string { return r.active }

func (r *Registry) SetActive(id string) { r.active = id }

func (r *Registry) Get(id string) (Session, bool) {
	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}

// Adopt prepends a freshly created session and makes it active.
func (r *Registry) Adopt(s Session) {
	r.sessions = append([]Session{s}, r.sessions...)
	r.active = s.ID
}

// Remove drops a session locally and reports whether it was active.
// When it was, the active selection is cleared and the caller clears
// the transcript.
func (r *Registry) Remove(id string) bool {
	for i, s := range r.sessions {
		if s.ID == id {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
	if r.active != id {
		return false
	}
	r.active = ""
	return true
}

func (r *Registry) Rename(id, title string) {
	for i := range r.sessions {
		if r.sessions[i].ID == id {
			r.sessions[i].Title = title
			return
		}
	}
}

// BumpCounts adjusts the local counters after a completed exchange so
// the list stays plausible between refreshes.
func (r *Registry) BumpCounts(id string, messages int) {
	for i := range r.sessions {
		if r.sessions[i].ID == id {
			r.sessions[i].MessageCount += messages
			return
		}
	}
}
