package services

import (
	"net/http"
)

// ErrorKind classifies why a diploma request failed. The kind alone picks the
// response status.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthorization
	KindMethod
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindMethod:
		return "method"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Status maps the kind to its HTTP status code.
func (k ErrorKind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindMethod:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// RequestError is a terminal failure of one diploma request.
//
// Message is safe to show any caller. Detail is the fault text a trusted
// caller may see when error details are exposed; it falls back to Err.
type RequestError struct {
	Kind    ErrorKind
	Message string
	Detail  string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *RequestError) Unwrap() error { return e.Err }

// publicMessage is the response body for e. 5xx details stay in the logs
// unless expose is set.
func (e *RequestError) publicMessage(expose bool) string {
	if e.Kind.Status() < http.StatusInternalServerError || !expose {
		return e.Message
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

const (
	msgMissingToken  = "Missing captcha token"
	msgCaptchaFailed = "Captcha verification failed"
	msgMissingFields = "Missing required fields: email, username, major, degree"
	msgMethod        = "Method Not Allowed"
	msgInternal      = "Internal Server Error"
	msgGenerate      = "Failed to generate diploma"
	msgSendEmail     = "Failed to send email"
)

func validationError(msg string) *RequestError {
	return &RequestError{Kind: KindValidation, Message: msg}
}
