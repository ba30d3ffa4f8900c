package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/domain"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

const (
	DefaultSessionQueueSize = 1024
	maxRequestBody          = 64 << 10
)

// Session is the contract plus observer registration, as served by the gateway
type Session interface {
	domain.Contract
	Attach(observer broadcast.Observer) string
	Detach(id string)
}

type HandlerOptions struct {
	// StaticDir is served under / when set
	StaticDir string
	// AllowedOrigins for WebSocket upgrades; empty allows any origin
	AllowedOrigins   []string
	SessionQueueSize int
}

// Handler serves the REST API and the WebSocket event stream
type Handler struct {
	session  Session
	options  HandlerOptions
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewHandler(session Session, options HandlerOptions, logger logging.Logger) *Handler {
	if options.SessionQueueSize <= 0 {
		options.SessionQueueSize = DefaultSessionQueueSize
	}

	h := &Handler{
		session: session,
		options: options,
		router:  mux.NewRouter(),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	r := h.router
	r.HandleFunc("/api/status", h.getStatus).Methods("GET")
	r.HandleFunc("/api/instances", h.listInstances).Methods("GET")
	r.HandleFunc("/api/instances", h.provision).Methods("POST")
	r.HandleFunc("/api/instances/{name}", h.deleteInstance).Methods("DELETE")
	r.HandleFunc("/api/instances/{name}/start", h.start).Methods("POST")
	r.HandleFunc("/api/stop", h.stop).Methods("POST")
	r.HandleFunc("/api/restart", h.restart).Methods("POST")
	r.HandleFunc("/api/command", h.command).Methods("POST")
	r.HandleFunc("/api/releases", h.listReleases).Methods("GET")
	r.HandleFunc("/api/tunnel", h.tunnel).Methods("GET")
	r.HandleFunc("/api/history", h.history).Methods("GET")
	r.HandleFunc("/api/events", h.events).Methods("GET")
	if options.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(options.StaticDir))).Methods("GET", "HEAD")
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.router.ServeHTTP(w, req)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.options.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.options.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (h *Handler) writeJson(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(code)
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCodeOf(errors.TypeOf(err))
	if code >= http.StatusInternalServerError {
		h.logger.Errorf("Request failed, method: %s, path: %s, error: %v", r.Method, r.URL.Path, err)
	} else {
		h.logger.Debugf("Request rejected, method: %s, path: %s, error: %v", r.Method, r.URL.Path, err)
	}
	h.writeJson(w, code, ErrorBody{Error: errorInfoOf(err)})
}

func (h *Handler) readJson(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.NewValidationError("malformed request body", err)
	}
	return nil
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.session.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, status)
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.session.ListInstances(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, instances)
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := h.readJson(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.session.Provision(r.Context(), req.Name, req.Release); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusCreated, OkBody{Success: true})
}

func (h *Handler) deleteInstance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	result, err := h.session.Delete(r.Context(), name)
	if err != nil {
		info := errorInfoOf(err)
		h.logger.Debugf("Delete rejected, name: %s, error: %v", name, err)
		h.writeJson(w, StatusCodeOf(errors.TypeOf(err)), DeleteBody{DeleteResult: result, Error: &info})
		return
	}
	h.writeJson(w, http.StatusOK, DeleteBody{DeleteResult: result})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Start(r.Context(), mux.Vars(r)["name"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, OkBody{Success: true})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Stop(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, OkBody{Success: true})
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Restart(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, OkBody{Success: true})
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := h.readJson(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.session.SendCommand(r.Context(), req.Text); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, OkBody{Success: true})
}

func (h *Handler) listReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := h.session.ListReleases(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, releases)
}

func (h *Handler) tunnel(w http.ResponseWriter, r *http.Request) {
	status, err := h.session.TunnelEndpoint(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	code := http.StatusOK
	if !status.Available {
		code = http.StatusServiceUnavailable
		if status.Reason == string(errors.ErrorTypeNotFound) {
			code = http.StatusNotFound
		}
	}
	h.writeJson(w, code, status)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			h.writeError(w, r, errors.NewValidationError(fmt.Sprintf("invalid limit: %s", value), nil))
			return
		}
		limit = parsed
	}

	entries, err := h.session.History(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, entries)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	rawConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.Warnf("WebSocket upgrade failed, remote: %s, error: %v", r.RemoteAddr, err)
		return
	}
	conn := newSafeConn(rawConn)

	s := &wsSession{
		handler:  h,
		conn:     conn,
		observer: broadcast.NewChannelObserver(h.options.SessionQueueSize),
		done:     make(chan struct{}),
		remote:   r.RemoteAddr,
	}
	s.serve()
}

// wsSession is one WebSocket client: a writer draining its observer queue
// and a reader dispatching client actions
type wsSession struct {
	handler  *Handler
	conn     *safeConn
	observer *broadcast.ChannelObserver
	done     chan struct{}
	remote   string
}

func (s *wsSession) serve() {
	logger := s.handler.logger
	id := s.handler.session.Attach(s.observer)
	logger.Infof("Event stream client connected, id: %s, remote: %s", id, s.remote)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	go s.sendReleases()

	s.readLoop()

	close(s.done)
	s.handler.session.Detach(id)
	<-writerDone
	s.conn.Close()

	if dropped := s.observer.Dropped(); dropped > 0 {
		logger.Warnf("Event stream client was too slow, id: %s, dropped events: %d", id, dropped)
	}
	logger.Infof("Event stream client disconnected, id: %s", id)
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case event := <-s.observer.Events():
			if err := s.conn.WriteJSON(event); err != nil {
				s.handler.logger.Debugf("Event stream write failed, remote: %s, error: %v", s.remote, err)
				// Unblocks the reader
				s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) readLoop() {
	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				s.reply(broadcast.SystemOutput("Error: malformed message"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.handler.logger.Debugf("Event stream read failed, remote: %s, error: %v", s.remote, err)
			}
			return
		}
		// Actions outlive the connection: a provision keeps going if the
		// browser tab closes
		go s.dispatch(context.Background(), msg)
	}
}

func (s *wsSession) dispatch(ctx context.Context, msg ClientMessage) {
	session := s.handler.session
	var err error

	switch msg.Action {
	case ActionProvision:
		err = session.Provision(ctx, msg.Name, msg.Release)
		if err != nil && !errors.IsValidationError(err) && !errors.IsConflictError(err) {
			// Failures past the pre-checks already reached every client as progress
			return
		}
		if err != nil {
			s.reply(broadcast.ProgressEvent(msg.Name, "Error: "+errors.MessageOf(err)))
		}
		return
	case ActionStart:
		err = session.Start(ctx, msg.Name)
	case ActionStop:
		err = session.Stop(ctx)
	case ActionRestart:
		err = session.Restart(ctx)
	case ActionCommand:
		err = session.SendCommand(ctx, msg.Text)
	case ActionDelete:
		var result domain.DeleteResult
		result, err = session.Delete(ctx, msg.Name)
		if err == nil {
			s.reply(broadcast.SystemOutput(result.Message))
		}
	case ActionRefresh:
		s.refresh(ctx)
		return
	default:
		err = errors.NewValidationError(fmt.Sprintf("unknown action: %q", msg.Action), nil)
	}

	if err != nil {
		s.reply(broadcast.SystemOutput("Error: " + errors.MessageOf(err)))
	}
}

func (s *wsSession) refresh(ctx context.Context) {
	if instances, err := s.handler.session.ListInstances(ctx); err == nil {
		s.reply(broadcast.InstanceListEvent(instances))
	} else {
		s.reply(broadcast.SystemOutput("Error: " + errors.MessageOf(err)))
	}
	s.sendReleases()
}

func (s *wsSession) sendReleases() {
	releases, err := s.handler.session.ListReleases(context.Background())
	if err != nil {
		s.reply(broadcast.SystemOutput("Failed to load releases: " + errors.MessageOf(err)))
		return
	}
	s.write(ReleaseListMessage{Type: MessageReleaseList, Releases: releases})
}

// reply goes through the session queue so it stays ordered with broadcasts
func (s *wsSession) reply(event broadcast.Event) {
	s.observer.Notify(event)
}

func (s *wsSession) write(v interface{}) {
	select {
	case <-s.done:
		return
	default:
	}
	if err := s.conn.WriteJSON(v); err != nil {
		s.handler.logger.Debugf("Event stream write failed, remote: %s, error: %v", s.remote, err)
	}
}

// isDecodeError reports a bad frame payload. An empty frame decodes as
// io.ErrUnexpectedEOF, while a closed connection surfaces as a close error.
func isDecodeError(err error) bool {
	if err == io.ErrUnexpectedEOF {
		return true
	}
	switch err.(type) {
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return true
	}
	return false
}
