package panel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/catalog"
	"github.com/core-tools/hsu-panel/pkg/control"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/gateway"
	"github.com/core-tools/hsu-panel/pkg/history"
	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/processfile"
	"github.com/core-tools/hsu-panel/pkg/provisioner"
	"github.com/core-tools/hsu-panel/pkg/supervisor"
	"github.com/core-tools/hsu-panel/pkg/tunnel"
)

const readHeaderTimeout = 10 * time.Second

// Panel owns every component of a running control panel
type Panel struct {
	config      *PanelConfig
	hub         *broadcast.Broadcaster
	catalog     *catalog.Catalog
	provisioner *provisioner.Provisioner
	supervisor  *supervisor.Supervisor
	runRecords  *processfile.ProcessFileManager
	history     *history.Store
	gateway     *gateway.Gateway
	handler     *control.Handler
	logger      logging.Logger

	consoleID string
	historyID string
}

// NewPanel creates and connects all components. Nothing is started and no
// port is opened; the history database is the only resource acquired.
func NewPanel(config *PanelConfig, logger logging.Logger) (*Panel, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	p := &Panel{
		config: config,
		hub:    broadcast.NewBroadcaster(),
		logger: logger,
	}

	p.catalog = catalog.NewCatalog(config.Catalog, logging.ForModule(logger, "catalog"))

	prov, err := provisioner.NewProvisioner(config.Instances, p.catalog, nil, logging.ForModule(logger, "provisioner"))
	if err != nil {
		return nil, errors.NewInternalError("failed to create provisioner", err)
	}
	p.provisioner = prov

	p.runRecords = processfile.NewProcessFileManager(config.RunRecords, logging.ForModule(logger, "processfile"))

	sup, err := supervisor.NewSupervisor(supervisor.Options{
		Config:      config.Process,
		RunRecords:  p.runRecords,
		RunRecordID: supervisor.DefaultRunRecordID,
	}, p.hub, logging.ForModule(logger, "supervisor"))
	if err != nil {
		return nil, errors.NewInternalError("failed to create supervisor", err)
	}
	p.supervisor = sup

	collaborators := gateway.Collaborators{
		Supervisor:  p.supervisor,
		Provisioner: p.provisioner,
		Hub:         p.hub,
		Catalog:     p.catalog,
		Tunnel:      tunnel.NewClient(config.Tunnel, logging.ForModule(logger, "tunnel")),
	}

	if config.History.IsEnabled() {
		store, err := history.Open(config.History.Config, logging.ForModule(logger, "history"))
		if err != nil {
			return nil, errors.NewInternalError("failed to open history", err)
		}
		p.history = store
		p.historyID = p.hub.Subscribe(store)
		collaborators.History = store
	}

	gw, err := gateway.NewGateway(gateway.Config{
		ExcludedDirs: config.Instances.ExcludedDirs,
	}, collaborators, logging.ForModule(logger, "gateway"))
	if err != nil {
		p.closeHistory()
		return nil, errors.NewInternalError("failed to create gateway", err)
	}
	p.gateway = gw

	p.handler = control.NewHandler(gw, control.HandlerOptions{
		StaticDir:      config.StaticDir,
		AllowedOrigins: config.Panel.AllowedOrigins,
	}, logging.ForModule(logger, "control"))

	p.consoleID = p.hub.Subscribe(newConsoleObserver(logging.ForModule(logger, "console")))

	return p, nil
}

// Handler serves the REST API, the event stream and the static client
func (p *Panel) Handler() http.Handler {
	return p.handler
}

func (p *Panel) Gateway() *gateway.Gateway {
	return p.gateway
}

func (p *Panel) Address() string {
	return net.JoinHostPort(p.config.Panel.Host, strconv.Itoa(p.config.Panel.Port))
}

// RecoverOrphan deals with a server left running by a previous panel
// process, so the supervisor starts from a clean host.
func (p *Panel) RecoverOrphan(ctx context.Context) error {
	record, err := p.runRecords.RecoverOrphan(ctx, supervisor.DefaultRunRecordID, p.config.Panel.OrphanGracePeriod)
	if err != nil {
		return err
	}
	if record != nil {
		p.hub.Publish(broadcast.SystemOutput(fmt.Sprintf("Cleaned up server '%s' left over from a previous run", record.Instance)))
	}
	return nil
}

// Close stops the server if one is running and flushes history
func (p *Panel) Close(ctx context.Context) error {
	errs := errors.NewErrorCollection()

	if err := p.supervisor.Shutdown(ctx); err != nil {
		errs.Add(err)
	}
	p.hub.Unsubscribe(p.consoleID)
	if err := p.closeHistory(); err != nil {
		errs.Add(err)
	}

	return errs.ToError()
}

func (p *Panel) closeHistory() error {
	if p.history == nil {
		return nil
	}
	p.hub.Unsubscribe(p.historyID)
	err := p.history.Close()
	p.history = nil
	return err
}

// Run starts a panel from a configuration file and serves until a signal
// arrives or runDuration (seconds, 0 for unlimited) elapses.
func Run(runDuration int, configFile string, logger logging.Logger) error {
	config := DefaultConfig()
	if configFile != "" {
		logger.Infof("Using CONFIGURATION FILE: %s", configFile)
		loaded, err := LoadConfigFromFile(configFile)
		if err != nil {
			return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
		}
		config = loaded
	}
	return RunWithConfig(runDuration, config, logger)
}

func RunWithConfig(runDuration int, config *PanelConfig, logger logging.Logger) error {
	logger.Infof("Panel runner starting...")

	ctx := context.Background()
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err)
	}

	panel, err := NewPanel(config, logger)
	if err != nil {
		return err
	}

	if err := panel.RecoverOrphan(ctx); err != nil {
		logger.Warnf("Orphan recovery failed: %v", err)
	}

	listener, err := net.Listen("tcp", panel.Address())
	if err != nil {
		panel.Close(context.Background())
		return errors.NewIOError("failed to listen", err).WithContext("address", panel.Address())
	}

	server := &http.Server{
		Handler:           panel.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	logger.Infof("Panel listening on %s", listener.Addr())

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	var runErr error
	select {
	case s := <-sig:
		logger.Infof("Received signal: %v", s)
	case <-ctx.Done():
		logger.Infof("Context done")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			runErr = errors.NewIOError("http server failed", err)
		}
	}

	logger.Infof("Panel stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Panel.ForceShutdownTimeout)
	defer cancel()

	// Stop accepting requests first so nothing starts a server mid-shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP server shutdown: %v", err)
		server.Close()
	}

	if err := panel.Close(shutdownCtx); err != nil {
		logger.Errorf("Panel shutdown: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	logger.Infof("Panel runner stopped")
	return runErr
}
