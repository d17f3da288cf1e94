package protocol

import (
	"errors"
	"fmt"
)

// Taxonomy roots. Every error returned by a session operation wraps exactly one of these.
var (
	ErrTransport  = errors.New("homelink: transport error")
	ErrProtocol   = errors.New("homelink: protocol error")
	ErrCrypto     = errors.New("homelink: crypto error")
	ErrValidation = errors.New("homelink: validation error")
	ErrState      = errors.New("homelink: state error")
)

var (
	ErrUnexpectedType  = fmt.Errorf("%w: unexpected packet type", ErrProtocol)
	ErrMalformedLength = fmt.Errorf("%w: malformed packet length", ErrProtocol)
	ErrUnknownType     = fmt.Errorf("%w: unknown packet type", ErrProtocol)
	ErrInvalidField    = fmt.Errorf("%w: invalid field value", ErrProtocol)

	ErrFieldOverflow = fmt.Errorf("%w: value exceeds field width", ErrValidation)
)

// KindOf names the taxonomy root of err, or "unknown".
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrCrypto):
		return "crypto"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrState):
		return "state"
	default:
		return "unknown"
	}
}

// ValidateIdentifier rejects identifiers whose UTF-8 encoding leaves no room for a terminator.
func ValidateIdentifier(name, value string) error {
	if len(value) > MaxIdentifierLen {
		return fmt.Errorf("%w: %s is %d bytes, max %d", ErrValidation, name, len(value), MaxIdentifierLen)
	}
	return nil
}
