package provisioner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

// Files shared with the provisioned directory and the supervisor
const (
	LaunchScript   = "start.sh"
	AgreementFile  = "eula.txt"
	AgreementText  = "eula=true\n"
	ServerArchive  = "server.jar"
	partialSuffix  = ".download"
	DefaultTimeout = 10 * time.Minute
)

// DefaultExcludedDirs are never listed as instances
var DefaultExcludedDirs = []string{"node_modules", "public", "templates", "run"}

type Status string

const (
	StatusAbsent             Status = "absent"
	StatusProvisioning       Status = "provisioning"
	StatusReady              Status = "ready"
	StatusProvisioningFailed Status = "provisioning-failed"
)

type Instance struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status Status `json:"status"`
}

// Catalog resolves a release id to the download location of its server archive
type Catalog interface {
	ServerDownloadURL(ctx context.Context, releaseID string) (string, error)
}

// ActivityChecker reports whether an instance is in use by the supervisor
type ActivityChecker interface {
	IsActive(name string) bool
}

// Progress receives human-readable provisioning steps
type Progress func(text string)

type Config struct {
	RootDir     string `yaml:"root_dir"`
	TemplateDir string `yaml:"template_dir,omitempty"`
	// Optional executable copied next to the launch script, e.g. a tunnel agent
	TunnelExecutable string        `yaml:"tunnel_executable,omitempty"`
	ExcludedDirs     []string      `yaml:"excluded_dirs,omitempty"`
	DownloadTimeout  time.Duration `yaml:"download_timeout,omitempty"`
}

type Provisioner struct {
	config  Config
	catalog Catalog
	fs      FileSystem
	client  *http.Client
	logger  logging.Logger

	statuses map[string]Status
	mutex    sync.Mutex
}

func NewProvisioner(config Config, catalog Catalog, fs FileSystem, logger logging.Logger) (*Provisioner, error) {
	if config.RootDir == "" {
		return nil, errors.NewValidationError("root directory is required", nil)
	}
	if config.ExcludedDirs == nil {
		config.ExcludedDirs = DefaultExcludedDirs
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = DefaultTimeout
	}
	if fs == nil {
		fs = OSFileSystem{}
	}

	return &Provisioner{
		config:   config,
		catalog:  catalog,
		fs:       fs,
		client:   &http.Client{Timeout: config.DownloadTimeout},
		logger:   logger,
		statuses: make(map[string]Status),
	}, nil
}

func (p *Provisioner) ValidateName(name string) error {
	return ValidateName(name, p.config.ExcludedDirs)
}

func (p *Provisioner) instancePath(name string) string {
	return filepath.Join(p.config.RootDir, name)
}

// ResolveDownloadLocation returns the server archive URL of releaseID
func (p *Provisioner) ResolveDownloadLocation(ctx context.Context, releaseID string) (string, error) {
	if releaseID == "" {
		return "", errors.NewValidationError("release id is required", nil)
	}
	return p.catalog.ServerDownloadURL(ctx, releaseID)
}

// Provision materializes instance name from releaseID. On any failure after
// the directory was created the directory is removed again; a failed
// cleanup is logged and never replaces the returned error.
func (p *Provisioner) Provision(ctx context.Context, name, releaseID string, progress Progress) (*Instance, error) {
	if err := p.ValidateName(name); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(string) {}
	}

	dir := p.instancePath(name)

	if err := p.claim(name, dir); err != nil {
		return nil, err
	}

	p.logger.Infof("Provisioning server, name: %s, release: %s, dir: %s", name, releaseID, dir)

	if err := p.build(ctx, name, dir, releaseID, progress); err != nil {
		p.logger.Errorf("Provisioning failed, name: %s, error: %v", name, err)
		progress(fmt.Sprintf("Error: %v", err))
		p.cleanup(name, dir)
		return nil, err
	}

	p.setStatus(name, StatusReady)
	progress(fmt.Sprintf("Server '%s' created", name))
	p.logger.Infof("Provisioned server, name: %s, release: %s", name, releaseID)

	return &Instance{Name: name, Path: dir, Status: StatusReady}, nil
}

// claim marks name as provisioning unless it is in progress or a non-empty
// directory already holds it
func (p *Provisioner) claim(name, dir string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.statuses[name] == StatusProvisioning {
		return errors.NewConflictError(fmt.Sprintf("server '%s' is being provisioned", name), nil).WithContext("name", name)
	}

	entries, err := p.fs.ReadDir(dir)
	if err == nil && len(entries) > 0 {
		return errors.NewConflictError(fmt.Sprintf("server '%s' already exists", name), nil).WithContext("name", name)
	}
	if err != nil && !os.IsNotExist(err) {
		if info, statErr := p.fs.Stat(dir); statErr == nil && !info.IsDir() {
			return errors.NewConflictError(fmt.Sprintf("'%s' exists and is not a server directory", name), nil).WithContext("name", name)
		}
		return errors.NewIOError("failed to inspect server directory", err).WithContext("name", name)
	}

	p.statuses[name] = StatusProvisioning
	return nil
}

func (p *Provisioner) build(ctx context.Context, name, dir, releaseID string, progress Progress) error {
	progress(fmt.Sprintf("Creating directory for server '%s'...", name))
	if err := p.fs.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create server directory", err).WithContext("dir", dir)
	}

	progress(fmt.Sprintf("Resolving download for release %s...", releaseID))
	url, err := p.ResolveDownloadLocation(ctx, releaseID)
	if err != nil {
		return err
	}

	progress(fmt.Sprintf("Downloading %s...", ServerArchive))
	if err := p.download(ctx, url, filepath.Join(dir, ServerArchive), progress); err != nil {
		return err
	}

	progress("Accepting EULA...")
	if err := p.fs.WriteFile(filepath.Join(dir, AgreementFile), []byte(AgreementText), 0644); err != nil {
		return errors.NewIOError("failed to write agreement file", err).WithContext("dir", dir)
	}

	progress("Installing launch script...")
	if err := p.copyTemplate(LaunchScript, dir); err != nil {
		return err
	}

	if p.config.TunnelExecutable != "" {
		progress("Installing tunnel agent...")
		if err := p.copyTemplate(p.config.TunnelExecutable, dir); err != nil {
			return err
		}
	}

	return nil
}

// download streams url into a partial file and renames it into place once
// every byte announced by Content-Length has arrived
func (p *Provisioner) download(ctx context.Context, url, target string, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.NewDownloadError("invalid download url", err).WithContext("url", url)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelledError("download cancelled", ctx.Err()).WithContext("url", url)
		}
		return errors.NewUnavailableError("download server unreachable", err).WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewDownloadError(fmt.Sprintf("download failed with status %d", resp.StatusCode), nil).WithContext("url", url)
	}

	partial := target + partialSuffix
	file, err := p.fs.Create(partial)
	if err != nil {
		return errors.NewIOError("failed to create download file", err).WithContext("path", partial)
	}

	writer := &progressWriter{target: file, total: resp.ContentLength, progress: progress}
	written, copyErr := io.Copy(writer, resp.Body)
	closeErr := file.Close()

	if err := p.checkDownload(ctx, url, partial, writer, written, resp.ContentLength, copyErr, closeErr); err != nil {
		p.removePartial(partial)
		return err
	}

	if err := p.fs.Rename(partial, target); err != nil {
		p.removePartial(partial)
		return errors.NewIOError("failed to move download into place", err).WithContext("path", target)
	}

	p.logger.Debugf("Downloaded %d bytes, url: %s, path: %s", written, url, target)
	return nil
}

func (p *Provisioner) checkDownload(ctx context.Context, url, partial string, writer *progressWriter, written, expected int64, copyErr, closeErr error) error {
	switch {
	case writer.err != nil:
		return errors.NewIOError("failed to write download file", writer.err).WithContext("path", partial)
	case ctx.Err() != nil:
		return errors.NewCancelledError("download cancelled", ctx.Err()).WithContext("url", url)
	case expected > 0 && written < expected:
		return errors.NewIncompleteError(
			fmt.Sprintf("download incomplete: got %d of %d bytes", written, expected), copyErr).WithContext("url", url)
	case copyErr != nil:
		return errors.NewDownloadError("download interrupted", copyErr).WithContext("url", url).WithContext("written", written)
	case closeErr != nil:
		return errors.NewIOError("failed to close download file", closeErr).WithContext("path", partial)
	}
	return nil
}

// removePartial drops a failed download; failure is only logged
func (p *Provisioner) removePartial(partial string) {
	if err := p.fs.Remove(partial); err != nil && !os.IsNotExist(err) {
		p.logger.Warnf("Failed to remove partial download, path: %s, error: %v", partial, err)
	}
}

func (p *Provisioner) copyTemplate(file, dir string) error {
	if p.config.TemplateDir == "" {
		return errors.NewValidationError("template directory is not configured", nil).WithContext("file", file)
	}
	source := filepath.Join(p.config.TemplateDir, file)
	target := filepath.Join(dir, file)

	in, err := p.fs.Open(source)
	if err != nil {
		return errors.NewIOError("failed to open template", err).WithContext("path", source)
	}
	defer in.Close()

	out, err := p.fs.Create(target)
	if err != nil {
		return errors.NewIOError("failed to create file", err).WithContext("path", target)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.NewIOError("failed to copy template", err).WithContext("path", target)
	}
	if err := out.Close(); err != nil {
		return errors.NewIOError("failed to close file", err).WithContext("path", target)
	}

	if err := p.fs.Chmod(target, 0755); err != nil {
		return errors.NewIOError("failed to make file executable", err).WithContext("path", target)
	}
	return nil
}

func (p *Provisioner) cleanup(name, dir string) {
	if err := p.fs.RemoveAll(dir); err != nil {
		p.logger.Errorf("Failed to clean up after failed provisioning, name: %s, dir: %s, error: %v", name, dir, err)
		p.setStatus(name, StatusProvisioningFailed)
		return
	}
	p.clearStatus(name)
}

func (p *Provisioner) setStatus(name string, status Status) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.statuses[name] = status
}

func (p *Provisioner) clearStatus(name string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.statuses, name)
}

// List returns the sorted names of provisioned instances
func (p *Provisioner) List() ([]string, error) {
	entries, err := p.fs.ReadDir(p.config.RootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.NewIOError("failed to list servers", err).WithContext("dir", p.config.RootDir)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || p.isExcluded(name) {
			continue
		}
		if status, ok := p.statuses[name]; ok && status != StatusReady {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provisioner) isExcluded(name string) bool {
	for _, dir := range p.config.ExcludedDirs {
		if strings.EqualFold(name, dir) {
			return true
		}
	}
	return false
}

// Exists reports whether name is a provisioned instance ready to launch
func (p *Provisioner) Exists(name string) bool {
	return p.Status(name) == StatusReady
}

func (p *Provisioner) Status(name string) Status {
	p.mutex.Lock()
	status, tracked := p.statuses[name]
	p.mutex.Unlock()
	if tracked && status != StatusReady {
		return status
	}

	info, err := p.fs.Stat(p.instancePath(name))
	if err != nil || !info.IsDir() {
		return StatusAbsent
	}
	return StatusReady
}

// Remove deletes instance name and everything in it
func (p *Provisioner) Remove(name string, activity ActivityChecker) error {
	if err := p.ValidateName(name); err != nil {
		return err
	}
	if activity != nil && activity.IsActive(name) {
		return errors.NewBusyError(fmt.Sprintf("server '%s' is running, stop it first", name), nil).WithContext("name", name)
	}

	p.mutex.Lock()
	inProgress := p.statuses[name] == StatusProvisioning
	p.mutex.Unlock()
	if inProgress {
		return errors.NewBusyError(fmt.Sprintf("server '%s' is being provisioned", name), nil).WithContext("name", name)
	}

	dir := p.instancePath(name)
	info, err := p.fs.Stat(dir)
	if err != nil || !info.IsDir() {
		return errors.NewNotFoundError(fmt.Sprintf("server '%s' not found", name), err).WithContext("name", name)
	}

	if err := p.fs.RemoveAll(dir); err != nil {
		p.logger.Errorf("Failed to delete server, name: %s, error: %v", name, err)
		return errors.NewIOError(fmt.Sprintf("failed to delete server '%s'", name), err).WithContext("name", name)
	}

	p.clearStatus(name)
	p.logger.Infof("Deleted server, name: %s", name)
	return nil
}

// progressWriter reports download progress in 10% steps when the size is
// known. Write errors are kept apart from read errors.
type progressWriter struct {
	target   io.Writer
	total    int64
	written  int64
	reported int64
	progress Progress
	err      error
}

func (w *progressWriter) Write(b []byte) (int, error) {
	n, err := w.target.Write(b)
	w.written += int64(n)
	if err != nil {
		w.err = err
		return n, err
	}
	if w.total > 0 {
		step := w.written * 10 / w.total
		if step > w.reported && step < 10 {
			w.reported = step
			w.progress(fmt.Sprintf("Downloading %s: %d%%", ServerArchive, step*10))
		}
	}
	return n, nil
}
