package chat

import (
	"errors"
	"testing"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
)

func TestHealthMonitorStartsConnecting(t *testing.T) {
	m := NewHealthMonitor()
	if m.Status() != HealthConnecting {
		t.Fatalf("status = %v", m.Status())
	}
}

func TestHealthMonitorClassifiesFailures(t *testing.T) {
	m := NewHealthMonitor()
	m.ObserveSuccess()

	m.Observe(&api.TransportError{Op: "GET /sessions", Err: errors.New("refused")})
	if m.Status() != HealthDisconnected {
		t.Fatalf("status = %v", m.Status())
	}

	m.Observe(&api.DegradedError{Reason: "server experiencing high load"})
	if m.Status() != HealthDegraded {
		t.Fatalf("status = %v", m.Status())
	}
	if m.Reason() != "server experiencing high load" {
		t.Fatalf("reason = %q", m.Reason())
	}
}

func TestHealthMonitorRequestLocalErrorsLeaveStateAlone(t *testing.T) {
	m := NewHealthMonitor()
	m.ObserveSuccess()

	m.Observe(&api.StatusError{Status: 404})
	if m.Status() != HealthConnected {
		t.Fatalf("status = %v", m.Status())
	}
}

func TestHealthMonitorRecovery(t *testing.T) {
	m := NewHealthMonitor()
	m.Observe(&api.TransportError{Op: "x", Err: errors.New("down")})
	m.ObserveSuccess()

	if m.Status() != HealthConnected || m.Reason() != "" {
		t.Fatalf("status=%v reason=%q", m.Status(), m.Reason())
	}
}
