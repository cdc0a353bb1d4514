package domain

import (
	"errors"
	"fmt"
)

var (
	// Base errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")

	// Audio format errors
	ErrInvalidFormat       = errors.New("invalid audio format")
	ErrInvalidSampleRate   = errors.New("sample rate out of range")
	ErrInvalidChannels     = errors.New("channel count out of range")
	ErrNonFiniteSample     = errors.New("non-finite sample value")
	ErrAudioFormatMismatch = errors.New("audio format mismatch")

	// Effect and chain errors
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrEffectNotFound    = errors.New("effect not found")
	ErrChainFull         = errors.New("effect chain is full")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrTooManyBands      = errors.New("too many equalizer bands")
	ErrUnsupportedEffect = errors.New("unsupported effect type")
	ErrNotInstantiated   = errors.New("effect not instantiated")
	ErrManagerClosed     = errors.New("dsp manager is closed")

	// Preset errors
	ErrPresetNotFound     = errors.New("preset not found")
	ErrPresetExists       = errors.New("preset already exists")
	ErrInvalidPreset      = errors.New("invalid preset")
	ErrBadMagic           = errors.New("preset blob has bad magic")
	ErrUnsupportedVersion = errors.New("preset blob version not supported")
	ErrTruncated          = errors.New("preset blob truncated")

	// Source and sink errors
	ErrUnsupportedFormat   = errors.New("unsupported audio file format")
	ErrEndOfStream         = errors.New("end of stream")
	ErrSinkClosed          = errors.New("sink is closed")
	ErrSinkNotOpen         = errors.New("sink is not open")
	ErrAudioDeviceNotFound = errors.New("audio device not found")

	// File system errors
	ErrFileNotFound     = errors.New("file not found")
	ErrFileAccessDenied = errors.New("file access denied")
)

type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(code string, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewDomainErrorWithDetails(code string, message string, details string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// Error codes for consistent error handling
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeInternal      = "INTERNAL"
	ErrCodeFormat        = "AUDIO_FORMAT"
	ErrCodeEffect        = "EFFECT"
	ErrCodeChain         = "CHAIN"
	ErrCodePreset        = "PRESET"
	ErrCodeSource        = "SOURCE"
	ErrCodeSink          = "SINK"
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrPresetNotFound) ||
		errors.Is(err, ErrEffectNotFound) || errors.Is(err, ErrFileNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrPresetExists)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrUnknownParameter) || errors.Is(err, ErrIndexOutOfRange) ||
		errors.Is(err, ErrInvalidPreset)
}

func IsFormatError(err error) bool {
	return errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrInvalidSampleRate) ||
		errors.Is(err, ErrInvalidChannels) || errors.Is(err, ErrAudioFormatMismatch) ||
		errors.Is(err, ErrNonFiniteSample)
}

func IsPresetCorrupted(err error) bool {
	return errors.Is(err, ErrBadMagic) || errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrTruncated)
}

func IsEndOfStream(err error) bool {
	return errors.Is(err, ErrEndOfStream)
}
