package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-panel/pkg/domain"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

const DefaultClientTimeout = 15 * time.Minute

// NewHTTPClientGateway returns a Contract backed by the panel's REST API at
// baseURL. Typed errors are rebuilt from the response body.
func NewHTTPClientGateway(baseURL string, client *http.Client, logger logging.Logger) domain.Contract {
	if client == nil {
		client = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &httpClientGateway{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		logger: logger,
	}
}

type httpClientGateway struct {
	base   string
	client *http.Client
	logger logging.Logger
}

func (gw *httpClientGateway) instanceURL(name string, suffix string) string {
	return "/api/instances/" + url.PathEscape(name) + suffix
}

// do sends the request and returns the status code and body. Transport
// failures map to Unavailable.
func (gw *httpClientGateway) do(ctx context.Context, method, path string, in interface{}) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, errors.NewInternalError("failed to encode request", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, gw.base+path, body)
	if err != nil {
		return 0, nil, errors.NewValidationError("invalid panel url", err).WithContext("url", gw.base)
	}
	if in != nil {
		req.Header.Set("Content-Type", mimeJson)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := gw.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, errors.NewCancelledError("request cancelled", err)
		}
		return 0, nil, errors.NewUnavailableError("panel unreachable", err).WithContext("url", gw.base)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.NewUnavailableError("failed to read panel response", err)
	}
	return resp.StatusCode, out, nil
}

func (gw *httpClientGateway) call(ctx context.Context, method, path string, in interface{}, out interface{}) error {
	code, body, err := gw.do(ctx, method, path, in)
	if err != nil {
		gw.logger.Errorf("%s %s client gateway: %v", method, path, err)
		return err
	}

	if code < 200 || code > 299 {
		var errBody ErrorBody
		json.Unmarshal(body, &errBody)
		err := errorFromInfo(errBody.Error, code)
		gw.logger.Debugf("%s %s client gateway rejected: %v", method, path, err)
		return err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return errors.NewInternalError(fmt.Sprintf("malformed response from %s", path), err)
		}
	}
	gw.logger.Debugf("%s %s client gateway done", method, path)
	return nil
}

func (gw *httpClientGateway) Status(ctx context.Context) (domain.RunStatus, error) {
	var status domain.RunStatus
	err := gw.call(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (gw *httpClientGateway) ListInstances(ctx context.Context) ([]string, error) {
	var instances []string
	err := gw.call(ctx, http.MethodGet, "/api/instances", nil, &instances)
	return instances, err
}

func (gw *httpClientGateway) ListReleases(ctx context.Context) ([]domain.Release, error) {
	var releases []domain.Release
	err := gw.call(ctx, http.MethodGet, "/api/releases", nil, &releases)
	return releases, err
}

func (gw *httpClientGateway) Provision(ctx context.Context, name string, releaseID string) error {
	return gw.call(ctx, http.MethodPost, "/api/instances", ProvisionRequest{Name: name, Release: releaseID}, nil)
}

func (gw *httpClientGateway) Start(ctx context.Context, name string) error {
	return gw.call(ctx, http.MethodPost, gw.instanceURL(name, "/start"), nil, nil)
}

func (gw *httpClientGateway) Stop(ctx context.Context) error {
	return gw.call(ctx, http.MethodPost, "/api/stop", nil, nil)
}

func (gw *httpClientGateway) Restart(ctx context.Context) error {
	return gw.call(ctx, http.MethodPost, "/api/restart", nil, nil)
}

func (gw *httpClientGateway) SendCommand(ctx context.Context, text string) error {
	return gw.call(ctx, http.MethodPost, "/api/command", CommandRequest{Text: text}, nil)
}

func (gw *httpClientGateway) Delete(ctx context.Context, name string) (domain.DeleteResult, error) {
	code, body, err := gw.do(ctx, http.MethodDelete, gw.instanceURL(name, ""), nil)
	if err != nil {
		return domain.DeleteResult{Message: errors.MessageOf(err)}, err
	}

	var result DeleteBody
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.DeleteResult{}, errors.NewInternalError("malformed delete response", err)
	}
	if code < 200 || code > 299 {
		info := ErrorInfo{Message: result.Message}
		if result.Error != nil {
			info = *result.Error
		}
		return result.DeleteResult, errorFromInfo(info, code)
	}
	return result.DeleteResult, nil
}

func (gw *httpClientGateway) TunnelEndpoint(ctx context.Context) (domain.TunnelStatus, error) {
	code, body, err := gw.do(ctx, http.MethodGet, "/api/tunnel", nil)
	if err != nil {
		return domain.TunnelStatus{}, err
	}

	var status domain.TunnelStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return domain.TunnelStatus{}, errors.NewInternalError("malformed tunnel response", err)
	}
	switch code {
	case http.StatusOK, http.StatusNotFound, http.StatusServiceUnavailable:
		return status, nil
	}
	return domain.TunnelStatus{}, errors.NewInternalError(fmt.Sprintf("unexpected tunnel response status %d", code), nil)
}

func (gw *httpClientGateway) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []domain.HistoryEntry
	err := gw.call(ctx, http.MethodGet, path, nil, &entries)
	return entries, err
}
