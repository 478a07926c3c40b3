// Package domain holds the typed identifiers shared across modules.
//
// UUID-backed IDs are distinct named types so a RequestID can never be passed
// where an EventID is expected. Digest-backed IDs (ContentHash, IdentityHash)
// are fixed-size arrays rendered as lowercase hex on the wire.
package domain

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	dErrors "mediaguard/pkg/domain-errors"
)

// DigestSize is the byte length of every content-addressed identifier.
const DigestSize = 32

type (
	RegistrationID uuid.UUID
	RequestID      uuid.UUID
	EventID        uuid.UUID
)

func NewRegistrationID() RegistrationID { return RegistrationID(uuid.New()) }
func NewRequestID() RequestID           { return RequestID(uuid.New()) }
func NewEventID() EventID               { return EventID(uuid.New()) }

func (id RegistrationID) String() string { return uuid.UUID(id).String() }
func (id RequestID) String() string      { return uuid.UUID(id).String() }
func (id EventID) String() string        { return uuid.UUID(id).String() }

func (id RegistrationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }

func (id RegistrationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id RequestID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }

func (id *RegistrationID) UnmarshalText(b []byte) error {
	parsed, err := ParseRegistrationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *RequestID) UnmarshalText(b []byte) error {
	parsed, err := ParseRequestID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseRegistrationID parses a non-nil UUID registration identifier.
func ParseRegistrationID(s string) (RegistrationID, error) {
	u, err := parseUUID(s, "registration id")
	return RegistrationID(u), err
}

// ParseRequestID parses a non-nil UUID takedown request identifier.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request id")
	return RequestID(u), err
}

// ParseEventID parses a non-nil UUID content event identifier.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event id")
	return EventID(u), err
}

func parseUUID(s, kind string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

// ContentHash identifies a media file by digest.
type ContentHash [DigestSize]byte

// IdentityHash identifies an owner by the digest of their public key.
type IdentityHash [DigestSize]byte

func (h ContentHash) String() string  { return hex.EncodeToString(h[:]) }
func (h IdentityHash) String() string { return hex.EncodeToString(h[:]) }

func (h ContentHash) IsZero() bool  { return h == ContentHash{} }
func (h IdentityHash) IsZero() bool { return h == IdentityHash{} }

func (h ContentHash) MarshalText() ([]byte, error)  { return []byte(h.String()), nil }
func (h IdentityHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *ContentHash) UnmarshalText(b []byte) error {
	parsed, err := ParseContentHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h *IdentityHash) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentityHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseContentHash decodes a 64-character hex digest.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	err := parseDigest(s, h[:], "content hash")
	return h, err
}

// ParseIdentityHash decodes a 64-character hex digest.
func ParseIdentityHash(s string) (IdentityHash, error) {
	var h IdentityHash
	err := parseDigest(s, h[:], "identity hash")
	return h, err
}

func parseDigest(s string, dst []byte, kind string) error {
	if len(s) != hex.EncodedLen(DigestSize) {
		return dErrors.New(dErrors.CodeInvalidInput, kind+" must be 64 hex characters")
	}
	if _, err := hex.Decode(dst, []byte(strings.ToLower(s))); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return nil
}
