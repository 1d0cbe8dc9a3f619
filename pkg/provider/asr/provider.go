// Package asr defines the interface for delegated speech-to-text backends.
//
// The gateway never transcribes locally: completed audio segments are shipped
// to an OpenAI-compatible transcription endpoint and the text comes back. A
// Provider is the client for one such endpoint. Calls are synchronous,
// carry a hard deadline, and are never retried by the provider itself; the
// caller decides what a failed segment means for the stream.
package asr

import (
	"context"
	"fmt"
	"time"
)

// Kind classifies a failed provider call.
type Kind int

const (
	// KindTimeout marks a call that exceeded its deadline.
	KindTimeout Kind = iota

	// KindHTTP marks a transport failure or a non-success status.
	KindHTTP

	// KindParse marks an unreadable response body.
	KindParse

	// KindAuth marks a rejected credential (HTTP 401 or 403).
	KindAuth
)

// String returns the stable identifier used in logs and wire errors.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http_error"
	case KindParse:
		return "parse_error"
	case KindAuth:
		return "auth_error"
	default:
		return "unknown"
	}
}

// Error describes a failed transcription call. Callers pick it apart with
// errors.As to decide how a failed segment is reported downstream.
type Error struct {
	Kind   Kind
	Status int    // HTTP status when one was received
	Body   string // truncated response body for diagnostics
	Err    error  // underlying cause, when any
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("asr: request timed out: %v", e.Err)
	case KindAuth:
		return fmt.Sprintf("asr: authentication rejected (HTTP %d)", e.Status)
	case KindParse:
		return fmt.Sprintf("asr: parse response: %v", e.Err)
	default:
		if e.Status != 0 {
			if e.Body != "" {
				return fmt.Sprintf("asr: server returned HTTP %d: %s", e.Status, e.Body)
			}
			return fmt.Sprintf("asr: server returned HTTP %d", e.Status)
		}
		return fmt.Sprintf("asr: request failed: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed text, trimmed. May be empty for silence.
	Text string

	// Elapsed is how long the backend call took.
	Elapsed time.Duration
}

// Provider transcribes finished audio segments against a remote backend.
// Implementations must be safe for concurrent use; the gateway may have
// several segments in flight across sessions.
type Provider interface {
	// Transcribe sends normalized mono samples and returns the text. The
	// prompt carries rolling conversational context to steer decoding and
	// may be empty. Failures are reported as *Error.
	Transcribe(ctx context.Context, samples []float32, prompt string) (Result, error)

	// SelfTest verifies the backend accepts this client's credentials and
	// audio format by transcribing a short near-silent clip.
	SelfTest(ctx context.Context) error

	// Name identifies the backend in logs and metrics.
	Name() string
}
