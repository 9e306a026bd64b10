package chat

import "testing"

func TestRetryCapAcrossRepeatedFailures(t *testing.T) {
	r := NewRetryCoordinator()
	r.Offer("send me")

	for i := 0; i < MaxRetries; i++ {
		content, ok := r.Take()
		if !ok || content != "send me" {
			t.Fatalf("take %d: content=%q ok=%v", i, content, ok)
		}
		r.Offer("send me") // each resubmission fails again
	}

	if r.Available() {
		t.Fatal("retry affordance should be withdrawn after the cap")
	}
	if _, ok := r.Take(); ok {
		t.Fatal("take past the cap should refuse")
	}
}

func TestRetryNewContentResetsAttempts(t *testing.T) {
	r := NewRetryCoordinator()
	r.Offer("first")
	r.Take()
	r.Take()

	r.Offer("second")
	if r.Remaining() != MaxRetries {
		t.Fatalf("remaining = %d", r.Remaining())
	}
}

func TestRetryClearOnSuccess(t *testing.T) {
	r := NewRetryCoordinator()
	r.Offer("failed send")
	r.ClearOnSuccess()

	if r.Available() {
		t.Fatal("success should clear the record")
	}
	if r.Remaining() != 0 {
		t.Fatalf("remaining = %d", r.Remaining())
	}
}

func TestRetryIgnoresEmptyContent(t *testing.T) {
	r := NewRetryCoordinator()
	r.Offer("")
	if r.Available() {
		t.Fatal("empty content is not retryable")
	}
}
