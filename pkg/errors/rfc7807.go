package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeValidationError = "https://api.polygrid.ai/problems/validation-error"
	TypeUnauthorized    = "https://api.polygrid.ai/problems/unauthorized"
	TypeForbidden       = "https://api.polygrid.ai/problems/forbidden"
	TypeNotFound        = "https://api.polygrid.ai/problems/not-found"
	TypeStateConflict   = "https://api.polygrid.ai/problems/state-conflict"
	TypeTransferFailure = "https://api.polygrid.ai/problems/transfer-failure"
	TypeReentrantCall   = "https://api.polygrid.ai/problems/reentrant-call"
	TypeRateLimit       = "https://api.polygrid.ai/problems/rate-limit"
	TypeInternalError   = "https://api.polygrid.ai/problems/internal-error"
)

// Problem titles
const (
	TitleValidationError = "Validation Error"
	TitleUnauthorized    = "Unauthorized"
	TitleForbidden       = "Forbidden"
	TitleNotFound        = "Not Found"
	TitleStateConflict   = "State Conflict"
	TitleTransferFailure = "Transfer Failure"
	TitleReentrantCall   = "Reentrant Call"
	TitleRateLimit       = "Rate Limit Exceeded"
	TitleInternalError   = "Internal Server Error"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Code     string                 `json:"code,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithExtra adds extra fields to the problem details (serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.Code != "" {
		result["code"] = p.Code
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	for k, v := range p.Extra {
		result[k] = v
	}
	return json.Marshal(result)
}

// HTTPStatus maps an error kind to the status code the API reports
func HTTPStatus(err error) int {
	var e *Error
	if !As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict, KindReentrant:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusForbidden
	case KindTransferFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Problem converts an error into an RFC 7807 problem for the HTTP boundary
func Problem(err error, instance string) *ProblemDetails {
	status := HTTPStatus(err)
	p := &ProblemDetails{
		Status:   status,
		Detail:   err.Error(),
		Instance: instance,
	}
	var e *Error
	if As(err, &e) {
		p.Code = e.Code
		p.Detail = e.Message
		if p.Detail == "" {
			p.Detail = e.Error()
		}
		switch e.Kind {
		case KindInvalidInput:
			p.Type, p.Title = TypeValidationError, TitleValidationError
		case KindNotFound:
			p.Type, p.Title = TypeNotFound, TitleNotFound
		case KindStateConflict:
			p.Type, p.Title = TypeStateConflict, TitleStateConflict
		case KindUnauthorized:
			p.Type, p.Title = TypeForbidden, TitleForbidden
		case KindTransferFailure:
			p.Type, p.Title = TypeTransferFailure, TitleTransferFailure
		case KindReentrant:
			p.Type, p.Title = TypeReentrantCall, TitleReentrantCall
		default:
			p.Type, p.Title = TypeInternalError, TitleInternalError
		}
		return p
	}
	p.Type, p.Title = TypeInternalError, TitleInternalError
	p.Detail = "internal error"
	return p
}
