package domain

import (
	"context"
	"time"
)

// Contract is the request surface of the panel, served in process by the
// gateway and remotely by the HTTP client gateway.
type Contract interface {
	Status(ctx context.Context) (RunStatus, error)
	ListInstances(ctx context.Context) ([]string, error)
	ListReleases(ctx context.Context) ([]Release, error)
	Provision(ctx context.Context, name string, releaseID string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	SendCommand(ctx context.Context, text string) error
	// Delete reports the outcome in the result as well as in the error
	Delete(ctx context.Context, name string) (DeleteResult, error)
	TunnelEndpoint(ctx context.Context) (TunnelStatus, error)
	History(ctx context.Context, limit int) ([]HistoryEntry, error)
}

type RunStatus struct {
	Phase     string     `json:"phase"`
	Instance  string     `json:"instance,omitempty"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

func (s RunStatus) Running() bool {
	return s.Phase == "running"
}

type Release struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	ReleaseTime string `json:"release_time,omitempty"`
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TunnelStatus never carries a failure as an error. Reason is set when the
// tunnel is not available: "not_found" when the agent runs without a tcp
// tunnel, "unavailable" when the agent cannot be reached.
type TunnelStatus struct {
	Available bool   `json:"available"`
	Address   string `json:"ip,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

type HistoryEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Instance   string    `json:"instance,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
