package domain

import "errors"

var (
	// ErrMalformedPacket is returned by the wire codec when a packet is too short,
	// a label length runs past the end of the buffer, or the question name is empty.
	// Callers should pass such packets through unmodified.
	ErrMalformedPacket = errors.New("malformed dns packet")

	// ErrInvalidDomainSyntax marks a hostname that fails domain grammar.
	// Parsers drop the offending line and keep going.
	ErrInvalidDomainSyntax = errors.New("invalid domain syntax")

	// ErrInvalidRule is returned when a UserRule fails validation.
	ErrInvalidRule = errors.New("invalid rule")
)
