package supervisor

import "time"

// Phase is the lifecycle phase of the supervised server
type Phase string

const (
	PhaseIdle     Phase = "idle"     // No child, ready to start
	PhaseStarting Phase = "starting" // Spawn in progress
	PhaseRunning  Phase = "running"  // Child alive
	PhaseStopping Phase = "stopping" // Termination in progress
	// PhaseRestarting holds the slot between the old child's exit and the
	// new spawn of a restart, so no other start can slip in.
	PhaseRestarting Phase = "restarting"
)

// Status is a point-in-time snapshot of the supervisor
type Status struct {
	Phase     Phase     `json:"phase"`
	Instance  string    `json:"instance,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Running reports whether a child is up and accepting input
func (s Status) Running() bool {
	return s.Phase == PhaseRunning
}
