package chat

import (
	"errors"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
)

type HealthStatus int

const (
	HealthConnecting HealthStatus = iota
	HealthConnected
	HealthDegraded
	HealthDisconnected
)

func (s HealthStatus) String() string {
	switch s {
	case HealthConnected:
		return "connected"
	case HealthDegraded:
		return "degraded"
	case HealthDisconnected:
		return "disconnected"
	default:
		return "connecting"
	}
}

// HealthMonitor derives connection state from request outcomes. It
// never probes on its own; callers report successes and failures as
// they happen.
type HealthMonitor struct {
	status HealthStatus
	reason string
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{status: HealthConnecting}
}

func (m *HealthMonitor) Status() HealthStatus { return m.status }

func (m *HealthMonitor) Reason() string { return m.reason }

// ObserveSuccess marks the backend reachable again.
func (m *HealthMonitor) ObserveSuccess() {
	m.status = HealthConnected
	m.reason = ""
}

// Observe classifies a failure. Request-local errors (bad status on a
// single call) leave health alone.
func (m *HealthMonitor) Observe(err error) {
	var terr *api.TransportError
	if errors.As(err, &terr) {
		m.status = HealthDisconnected
		m.reason = "cannot reach server"
		return
	}
	var derr *api.DegradedError
	if errors.As(err, &derr) {
		m.status = HealthDegraded
		m.reason = derr.Reason
		return
	}
}
