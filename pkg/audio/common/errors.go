package common

import "errors"

func (e *AudioError) Error() string {
	msg := e.Message
	if e.Backend != "" && e.Backend != BackendNone {
		msg = string(e.Backend) + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// AudioError represents extraction, bridge and model errors
type AudioError struct {
	Backend BackendType `json:"backend"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Cause   error       `json:"-"`
}

func (e *AudioError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeSpawnFailure          = "SPAWN_FAILURE"
	ErrCodeHandshakeFailure      = "HANDSHAKE_FAILURE"
	ErrCodeProtocolCorruption    = "PROTOCOL_CORRUPTION"
	ErrCodeSoftExtractionFailure = "SOFT_EXTRACTION_FAILURE"
	ErrCodeDimensionMismatch     = "DIMENSION_MISMATCH"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeNotReady              = "NOT_READY"
	ErrCodeUnsupportedBackend    = "UNSUPPORTED_BACKEND"
	ErrCodeIO                    = "IO_FAILURE"
)

// NewAudioError creates a new audio error
func NewAudioError(backend BackendType, code, message string, cause error) *AudioError {
	return &AudioError{
		Backend: backend,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether any AudioError in err's chain carries code
func IsCode(err error, code string) bool {
	var ae *AudioError
	for err != nil {
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Code == code {
			return true
		}
		err = ae.Cause
	}
	return false
}

// Code returns the code of the outermost AudioError in err's chain
func Code(err error) string {
	var ae *AudioError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
