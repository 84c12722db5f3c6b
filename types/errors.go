package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
)

var (
	ErrNetworkFailure   = errors.New("network failure")
	ErrUnsupportedType  = errors.New("unsupported content type")
	ErrInvalidMediaKind = errors.New("invalid media kind")
	ErrClientStopped    = errors.New("client stopped")
)

var (
	ErrResolverNotConfigured = errors.New("resolver endpoint not configured")
	ErrUpstreamRejected      = errors.New("upstream rejected request")
	ErrUpstreamMalformed     = errors.New("upstream response malformed")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
)

var (
	ErrOversizedMedia = errors.New("media exceeds size limit")
	ErrNoMediaURL     = errors.New("no media url in upstream response")
	ErrGalleryEmpty   = errors.New("no gallery image could be downloaded")
)

var (
	ErrStoreIO        = errors.New("store io error")
	ErrStoreStreamNil = errors.New("store stream is nil")
)

var (
	ErrSchedulerSend    = errors.New("scheduler send failed")
	ErrSchedulerStopped = errors.New("scheduler stopped")
	ErrPlanEmpty        = errors.New("delivery plan is empty")
	ErrSinkRejected     = errors.New("sink rejected deliverable")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
)

var (
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrMessageInvalid = errors.New("message invalid")
)

var (
	ErrSinkTypeUnknown     = errors.New("sink type unknown")
	ErrSinkConfigInvalid   = errors.New("sink config invalid")
	ErrServiceIsNotRunning = errors.New("service is not running")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// UserError pairs an internal cause with the text shown to the chat user.
type UserError struct {
	Message string
	Err     error
}

func NewUserError(err error, message string) *UserError {
	return &UserError{Message: message, Err: err}
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// UserMessage converts err into a single line safe to show to a chat user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var userErr *UserError
	if errors.As(err, &userErr) && userErr.Message != "" {
		return userErr.Message
	}

	switch {
	case errors.Is(err, ErrResolverNotConfigured):
		return "Media parsing is not configured, please contact the operator."
	case errors.Is(err, ErrUpstreamRejected):
		return "Parsing failed, please check that the link is correct."
	case errors.Is(err, ErrUpstreamMalformed):
		return "The parsing service returned an unexpected response, please try again later."
	case errors.Is(err, ErrCircuitBreakerOpen):
		return "The parsing service is temporarily unavailable, please try again later."
	case errors.Is(err, ErrNoMediaURL):
		return "No downloadable media was found for this link."
	case errors.Is(err, ErrUnsupportedType):
		return "The media format is not supported."
	case errors.Is(err, ErrOversizedMedia):
		return "The media file is too large to send."
	case errors.Is(err, ErrGalleryEmpty):
		return "None of the gallery images could be downloaded, please try again later."
	case errors.Is(err, ErrNetworkFailure):
		return "A network error occurred while downloading, please try again later."
	case errors.Is(err, ErrStoreIO):
		return "The media could not be saved, please try again later."
	case errors.Is(err, ErrSchedulerStopped):
		return "The service is shutting down, please try again later."
	default:
		return "An unknown error occurred while parsing, please try again later."
	}
}
