package chat

const MaxRetries = 3

// RetryCoordinator remembers the last failed send so the user can
// resubmit it. Retries are always user-initiated; nothing here fires
// automatically.
type RetryCoordinator struct {
	content  string
	attempts int
	active   bool
}

func NewRetryCoordinator() *RetryCoordinator {
	return &RetryCoordinator{}
}

// Offer records a failed send. A failure of different content starts a
// fresh attempt count; the same content failing again keeps it, so the
// cap holds across repeated failures.
func (r *RetryCoordinator) Offer(content string) {
	if content == "" {
		return
	}
	if !r.active || r.content != content {
		r.attempts = 0
	}
	r.content = content
	r.active = true
}

// Available reports whether the retry affordance should be shown.
func (r *RetryCoordinator) Available() bool {
	return r.active && r.attempts < MaxRetries
}

func (r *RetryCoordinator) Remaining() int {
	if !r.active {
		return 0
	}
	return MaxRetries - r.attempts
}

// Take hands back the stored content for resubmission and burns one
// attempt.
func (r *RetryCoordinator) Take() (string, bool) {
	if !r.Available() {
		return "", false
	}
	r.attempts++
	return r.content, true
}

// ClearOnSuccess drops the record once any send completes.
func (r *RetryCoordinator) ClearOnSuccess() {
	r.content = ""
	r.attempts = 0
	r.active = false
}
