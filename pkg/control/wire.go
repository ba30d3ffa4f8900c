package control

import (
	"net/http"

	"github.com/core-tools/hsu-panel/pkg/domain"
	"github.com/core-tools/hsu-panel/pkg/errors"
)

const mimeJson = "application/json; charset=utf-8"

type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

// DeleteBody is the delete response; Error is set on failure only
type DeleteBody struct {
	domain.DeleteResult
	Error *ErrorInfo `json:"error,omitempty"`
}

type OkBody struct {
	Success bool `json:"success"`
}

type ProvisionRequest struct {
	Name    string `json:"name"`
	Release string `json:"release"`
}

type CommandRequest struct {
	Text string `json:"text"`
}

// ClientMessage is what WebSocket clients send
type ClientMessage struct {
	Action  string `json:"action"`
	Name    string `json:"name,omitempty"`
	Release string `json:"release,omitempty"`
	Text    string `json:"text,omitempty"`
}

const (
	ActionProvision = "provision"
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionRestart   = "restart"
	ActionCommand   = "command"
	ActionDelete    = "delete"
	ActionRefresh   = "refresh"
)

// ReleaseListMessage is sent to a WebSocket client on connect and on refresh
type ReleaseListMessage struct {
	Type     string           `json:"type"`
	Releases []domain.Release `json:"releases"`
}

const MessageReleaseList = "release_list"

func errorInfoOf(err error) ErrorInfo {
	return ErrorInfo{Type: string(errors.TypeOf(err)), Message: errors.MessageOf(err)}
}

// StatusCodeOf maps a domain error type to its HTTP status
func StatusCodeOf(errorType errors.ErrorType) int {
	switch errorType {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConflict, errors.ErrorTypeAlreadyRunning, errors.ErrorTypeNotRunning, errors.ErrorTypeBusy:
		return http.StatusConflict
	case errors.ErrorTypeDownload, errors.ErrorTypeIncomplete:
		return http.StatusBadGateway
	case errors.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorFromInfo(info ErrorInfo, statusCode int) error {
	errorType := errors.ErrorType(info.Type)
	if errorType == "" {
		errorType = errors.ErrorTypeInternal
	}
	message := info.Message
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return errors.NewDomainError(errorType, message, nil).WithContext("status", statusCode)
}
