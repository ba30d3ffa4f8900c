package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/catalog"
	"github.com/core-tools/hsu-panel/pkg/domain"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/history"
	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/provisioner"
	"github.com/core-tools/hsu-panel/pkg/supervisor"
)

type Supervisor interface {
	Status() supervisor.Status
	IsActive(name string) bool
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, onStopped func()) error
	Restart(ctx context.Context) error
	SendInput(text string) error
}

type Provisioner interface {
	Provision(ctx context.Context, name, releaseID string, progress provisioner.Progress) (*provisioner.Instance, error)
	Remove(name string, activity provisioner.ActivityChecker) error
	List() ([]string, error)
	Status(name string) provisioner.Status
}

type ReleaseCatalog interface {
	Releases(ctx context.Context) ([]catalog.Release, error)
}

type TunnelService interface {
	Endpoint(ctx context.Context) (string, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

type Hub interface {
	broadcast.Publisher
	Subscribe(observer broadcast.Observer) string
	Unsubscribe(id string) bool
}

// Collaborators are the components the gateway drives. Catalog, Tunnel and
// History are optional.
type Collaborators struct {
	Supervisor  Supervisor
	Provisioner Provisioner
	Hub         Hub
	Catalog     ReleaseCatalog
	Tunnel      TunnelService
	History     HistoryReader
}

type Config struct {
	ExcludedDirs []string `yaml:"excluded_dirs,omitempty"`
}

// Gateway translates requests into supervisor and provisioner calls and
// enforces the rules that span both: no start of an absent instance, no
// delete of an active one, and one create or delete per name at a time.
type Gateway struct {
	config Config
	c      Collaborators
	locks  *nameLocks
	logger logging.Logger
}

var _ domain.Contract = (*Gateway)(nil)

func NewGateway(config Config, collaborators Collaborators, logger logging.Logger) (*Gateway, error) {
	if collaborators.Supervisor == nil || collaborators.Provisioner == nil || collaborators.Hub == nil {
		return nil, errors.NewValidationError("supervisor, provisioner and hub are required", nil)
	}
	if config.ExcludedDirs == nil {
		config.ExcludedDirs = provisioner.DefaultExcludedDirs
	}
	return &Gateway{
		config: config,
		c:      collaborators,
		locks:  newNameLocks(),
		logger: logger,
	}, nil
}

func (g *Gateway) validateName(name string) error {
	return provisioner.ValidateName(name, g.config.ExcludedDirs)
}

func (g *Gateway) Status(ctx context.Context) (domain.RunStatus, error) {
	return runStatusOf(g.c.Supervisor.Status()), nil
}

func runStatusOf(status supervisor.Status) domain.RunStatus {
	result := domain.RunStatus{
		Phase:    string(status.Phase),
		Instance: status.Instance,
		PID:      status.PID,
	}
	if !status.StartedAt.IsZero() {
		startedAt := status.StartedAt
		result.StartedAt = &startedAt
	}
	return result
}

func (g *Gateway) ListInstances(ctx context.Context) ([]string, error) {
	return g.c.Provisioner.List()
}

func (g *Gateway) ListReleases(ctx context.Context) ([]domain.Release, error) {
	if g.c.Catalog == nil {
		return nil, errors.NewUnavailableError("release catalog is not configured", nil)
	}
	releases, err := g.c.Catalog.Releases(ctx)
	if err != nil {
		g.logger.Warnf("Failed to list releases: %v", err)
		return nil, err
	}
	result := make([]domain.Release, 0, len(releases))
	for _, r := range releases {
		result = append(result, domain.Release{ID: r.ID, Type: r.Type, ReleaseTime: r.ReleaseTime})
	}
	return result, nil
}

func (g *Gateway) Provision(ctx context.Context, name string, releaseID string) error {
	if err := g.validateName(name); err != nil {
		return err
	}
	if releaseID == "" {
		return errors.NewValidationError("release id is required", nil)
	}

	release, err := g.locks.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()

	progress := func(text string) {
		g.c.Hub.Publish(broadcast.ProgressEvent(name, text))
	}

	if _, err := g.c.Provisioner.Provision(ctx, name, releaseID, progress); err != nil {
		return err
	}

	g.publishInstanceList()
	return nil
}

func (g *Gateway) Start(ctx context.Context, name string) error {
	if err := g.validateName(name); err != nil {
		return err
	}

	// Held across the spawn so a delete of the same name cannot slip in
	// between the existence check and the supervisor claiming the instance
	release, err := g.locks.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()

	if g.c.Provisioner.Status(name) != provisioner.StatusReady {
		return errors.NewNotFoundError(fmt.Sprintf("server '%s' not found", name), nil).WithContext("name", name)
	}

	return g.c.Supervisor.Start(ctx, name)
}

func (g *Gateway) Stop(ctx context.Context) error {
	if status := g.c.Supervisor.Status(); status.Instance != "" {
		g.c.Hub.Publish(broadcast.SystemOutput(fmt.Sprintf("Stopping server '%s'...", status.Instance)))
	}
	return g.c.Supervisor.Stop(ctx, nil)
}

func (g *Gateway) Restart(ctx context.Context) error {
	return g.c.Supervisor.Restart(ctx)
}

func (g *Gateway) SendCommand(ctx context.Context, text string) error {
	text = strings.TrimRight(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return errors.NewValidationError("command is empty", nil)
	}
	if strings.ContainsAny(text, "\r\n") {
		return errors.NewValidationError("command must be a single line", nil)
	}
	return g.c.Supervisor.SendInput(text)
}

func (g *Gateway) Delete(ctx context.Context, name string) (domain.DeleteResult, error) {
	err := g.delete(ctx, name)
	if err != nil {
		return domain.DeleteResult{Success: false, Message: errors.MessageOf(err)}, err
	}
	return domain.DeleteResult{Success: true, Message: fmt.Sprintf("Server '%s' deleted", name)}, nil
}

func (g *Gateway) delete(ctx context.Context, name string) error {
	if err := g.validateName(name); err != nil {
		return err
	}

	release, err := g.locks.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()

	if err := g.c.Provisioner.Remove(name, g.c.Supervisor); err != nil {
		g.logger.Warnf("Delete rejected, name: %s, error: %v", name, err)
		return err
	}

	g.publishInstanceList()
	return nil
}

func (g *Gateway) TunnelEndpoint(ctx context.Context) (domain.TunnelStatus, error) {
	if g.c.Tunnel == nil {
		return domain.TunnelStatus{Reason: string(errors.ErrorTypeUnavailable), Message: "tunnel service is not configured"}, nil
	}

	address, err := g.c.Tunnel.Endpoint(ctx)
	if err != nil {
		reason := errors.ErrorTypeUnavailable
		if errors.IsNotFoundError(err) {
			reason = errors.ErrorTypeNotFound
		}
		g.logger.Debugf("Tunnel endpoint not available: %v", err)
		return domain.TunnelStatus{Reason: string(reason), Message: errors.MessageOf(err)}, nil
	}
	return domain.TunnelStatus{Available: true, Address: address}, nil
}

func (g *Gateway) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if g.c.History == nil {
		return []domain.HistoryEntry{}, nil
	}
	entries, err := g.c.History.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := make([]domain.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, domain.HistoryEntry{
			ID:         e.ID,
			Type:       e.Type,
			Instance:   e.Instance,
			Detail:     e.Detail,
			OccurredAt: e.OccurredAt,
		})
	}
	return result, nil
}

// Attach subscribes observer and then brings it up to date with the
// instance list and the current process state. Events published while the
// snapshot is taken are held back and delivered after it, so the observer
// always ends on the latest state.
func (g *Gateway) Attach(observer broadcast.Observer) string {
	gate := newSnapshotGate(observer)
	id := g.c.Hub.Subscribe(gate)

	if instances, err := g.c.Provisioner.List(); err == nil {
		observer.Notify(broadcast.InstanceListEvent(instances))
	} else {
		g.logger.Warnf("Failed to list servers for new observer: %v", err)
	}

	status := g.c.Supervisor.Status()
	if status.Phase != supervisor.PhaseIdle && status.Instance != "" {
		observer.Notify(broadcast.StartedEvent(status.Instance))
	} else {
		observer.Notify(broadcast.StoppedEvent(""))
	}

	gate.open()

	g.logger.Debugf("Observer attached, id: %s", id)
	return id
}

// snapshotGate queues hub events for a new observer until its snapshot has
// been delivered, then passes them straight through
type snapshotGate struct {
	target  broadcast.Observer
	mutex   sync.Mutex
	opened  bool
	pending []broadcast.Event
}

func newSnapshotGate(target broadcast.Observer) *snapshotGate {
	return &snapshotGate{target: target}
}

func (s *snapshotGate) Notify(event broadcast.Event) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.opened {
		s.pending = append(s.pending, event)
		return
	}
	s.target.Notify(event)
}

func (s *snapshotGate) open() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, event := range s.pending {
		s.target.Notify(event)
	}
	s.pending = nil
	s.opened = true
}

func (g *Gateway) Detach(id string) {
	if g.c.Hub.Unsubscribe(id) {
		g.logger.Debugf("Observer detached, id: %s", id)
	}
}

func (g *Gateway) publishInstanceList() {
	instances, err := g.c.Provisioner.List()
	if err != nil {
		g.logger.Warnf("Failed to list servers: %v", err)
		return
	}
	g.c.Hub.Publish(broadcast.InstanceListEvent(instances))
}
