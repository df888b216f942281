package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind classifies an Exception for callers that branch on failure class
// rather than on HTTP status.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindGateway    Kind = "gateway"
	KindNotFound   Kind = "not_found"
	KindTimeout    Kind = "timeout"
	KindUnexpected Kind = "unexpected"
)

type Exception struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     string `json:"error,omitempty"`

	cause error
}

func (e *Exception) Error() string {
	if e.Err != "" {
		return e.Message + ": " + e.Err
	}
	return e.Message
}

func (e *Exception) Unwrap() error {
	return e.cause
}

type UserFriendlyExceptionOption func(*Exception)

func WithCode(code int) UserFriendlyExceptionOption {
	return func(h *Exception) {
		h.Code = code
	}
}

func WithMessage(message string) UserFriendlyExceptionOption {
	return func(h *Exception) {
		h.Message = message
	}
}

func WithError(err error) UserFriendlyExceptionOption {
	return func(h *Exception) {
		if err == nil {
			return
		}
		h.Err = err.Error()
		h.cause = err
	}
}

func withKind(kind Kind) UserFriendlyExceptionOption {
	return func(h *Exception) {
		h.Kind = kind
	}
}

// Validation reports bad client input.
func Validation(opts ...UserFriendlyExceptionOption) *Exception {
	defaultOpts := []UserFriendlyExceptionOption{
		WithCode(http.StatusBadRequest),
		withKind(KindValidation),
		WithMessage("invalid request"),
	}
	return UserFriendlyException(append(defaultOpts, opts...)...)
}

// Auth reports a failed credential exchange with the payment gateway.
func Auth(opts ...UserFriendlyExceptionOption) *Exception {
	defaultOpts := []UserFriendlyExceptionOption{
		WithCode(http.StatusInternalServerError),
		withKind(KindAuth),
		WithMessage("failed to authenticate with payment gateway"),
	}
	return UserFriendlyException(append(defaultOpts, opts...)...)
}

// Gateway reports a non-success answer from the payment API.
func Gateway(opts ...UserFriendlyExceptionOption) *Exception {
	defaultOpts := []UserFriendlyExceptionOption{
		WithCode(http.StatusInternalServerError),
		withKind(KindGateway),
		WithMessage("payment gateway rejected the request"),
	}
	return UserFriendlyException(append(defaultOpts, opts...)...)
}

// Timeout reports a gateway call that exceeded its bound. It is handled
// exactly like a Gateway failure.
func Timeout(opts ...UserFriendlyExceptionOption) *Exception {
	defaultOpts := []UserFriendlyExceptionOption{
		WithCode(http.StatusInternalServerError),
		withKind(KindTimeout),
		WithMessage("payment gateway timed out"),
	}
	return UserFriendlyException(append(defaultOpts, opts...)...)
}

func NotFound(opts ...UserFriendlyExceptionOption) *Exception {
	defaultOpts := []UserFriendlyExceptionOption{
		WithCode(http.StatusNotFound),
		withKind(KindNotFound),
		WithMessage("no entities found with given parameters"),
	}
	return UserFriendlyException(append(defaultOpts, opts...)...)
}

func Unexpected(opts ...UserFriendlyExceptionOption) *Exception {
	defaultOpts := []UserFriendlyExceptionOption{
		WithCode(http.StatusInternalServerError),
		withKind(KindUnexpected),
		WithMessage("internal server error"),
	}
	return UserFriendlyException(append(defaultOpts, opts...)...)
}

func UserFriendlyException(opts ...UserFriendlyExceptionOption) *Exception {
	h := &Exception{
		Code:    http.StatusInternalServerError,
		Kind:    KindUnexpected,
		Message: "internal server error",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// As returns the first Exception in err's chain.
func As(err error) (*Exception, bool) {
	var exc *Exception
	if stderrors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}

// IsKind reports whether err carries an Exception of the given kind.
func IsKind(err error, kind Kind) bool {
	exc, ok := As(err)
	return ok && exc.Kind == kind
}
