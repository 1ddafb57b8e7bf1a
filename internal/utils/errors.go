package utils

import "fmt"

// Error codes for the particle engine's error taxonomy.
const (
	ErrCodeExpiration       = "EXPIRATION"
	ErrCodeInterpreter      = "INTERPRETER_ERROR"
	ErrCodeSend             = "SEND_ERROR"
	ErrCodeService          = "SERVICE_ERROR"
	ErrCodeInvalidParticle  = "INVALID_PARTICLE_SPEC"
	ErrCodeUnsupportedRoute = "UNSUPPORTED_ROUTE"
	ErrCodeNotInitialized   = "NOT_INITIALIZED"
)

// PeerError is a structured error carrying a code, a message, a particle id
// (when applicable) and an optional wrapped cause.
type PeerError struct {
	Code       string
	Message    string
	ParticleID string
	Cause      error
}

func (e *PeerError) Error() string {
	prefix := e.Code
	if e.ParticleID != "" {
		prefix = fmt.Sprintf("%s particle=%s", e.Code, e.ParticleID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *PeerError) Unwrap() error { return e.Cause }

func newPeerError(code, message, particleID string, cause error) *PeerError {
	return &PeerError{Code: code, Message: message, ParticleID: particleID, Cause: cause}
}

// ExpirationError reports that a particle's TTL was exceeded before completion.
func ExpirationError(particleID string) *PeerError {
	return newPeerError(ErrCodeExpiration, "particle expired", particleID, nil)
}

// InterpreterError reports a non-zero AVM retCode or an AVM invocation failure.
func InterpreterError(particleID, message string) *PeerError {
	return newPeerError(ErrCodeInterpreter, message, particleID, nil)
}

// SendError reports a failed attempt to forward a particle over the connection.
func SendError(particleID string, cause error) *PeerError {
	return newPeerError(ErrCodeSend, "failed to send particle", particleID, cause)
}

// ServiceError reports that a local handler deliberately rejected a call.
// It is surfaced to AIR as a retCode=error result, never to the initiator's
// awaiter directly.
func ServiceError(message string) *PeerError {
	return newPeerError(ErrCodeService, message, "", nil)
}

// InvalidParticleSpec reports malformed input to createNew.
func InvalidParticleSpec(message string) *PeerError {
	return newPeerError(ErrCodeInvalidParticle, message, "", nil)
}

// UnsupportedRoute reports a sendParticle call whose next-hops are not the relay.
func UnsupportedRoute(message string) *PeerError {
	return newPeerError(ErrCodeUnsupportedRoute, message, "", nil)
}

// NotInitialized reports a usage error raised before start() or after stop().
func NotInitialized(message string) *PeerError {
	return newPeerError(ErrCodeNotInitialized, message, "", nil)
}
