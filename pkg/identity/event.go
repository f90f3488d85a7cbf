// Package identity implements the per-user hash-chained identity event log.
//
// Each event commits to the previous event's hash:
//
//	eventHash = sha256(userId ␟ eventType ␟ JCS(eventData) ␟ previousHash ␟ timestamp)
//
// where ␟ is the ASCII unit separator, JCS is RFC 8785 canonical JSON and the
// timestamp is RFC 3339 UTC with microsecond precision.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// EventType names a lifecycle action recorded in the log
type EventType string

const (
	EventUserCreated       EventType = "user.created"
	EventUserLogin         EventType = "user.login"
	EventUserLoginFailed   EventType = "user.login_failed"
	EventEmailVerified     EventType = "email.verified"
	EventMagicLinkIssued   EventType = "magic_link.issued"
	EventMagicLinkConsumed EventType = "magic_link.consumed"
	EventSessionRevoked    EventType = "session.revoked"
	EventPasswordReset     EventType = "password.reset"
	EventTokenRefreshed    EventType = "token.refreshed"
)

const separator = "\x1f"

// Event is one link of a user's chain. PreviousHash is empty for the first event.
type Event struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Type         EventType      `json:"eventType"`
	Data         map[string]any `json:"eventData"`
	Hash         string         `json:"eventHash"`
	PreviousHash string         `json:"previousHash,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Canonicalize returns the RFC 8785 form of data. nil encodes as {}.
func Canonicalize(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event data: %w", err)
	}
	return canonical, nil
}

// Timestamp truncates t to the precision the chain commits to
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ComputeHash returns the hex sha256 commitment of one event
func ComputeHash(userID string, eventType EventType, data map[string]any, previousHash string, ts time.Time) (string, error) {
	canonical, err := Canonicalize(data)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte(separator))
	h.Write([]byte(eventType))
	h.Write([]byte(separator))
	h.Write(canonical)
	h.Write([]byte(separator))
	h.Write([]byte(previousHash))
	h.Write([]byte(separator))
	h.Write([]byte(Timestamp(ts).Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NewEvent builds the event that follows previous (nil for the first event of a user)
func NewEvent(userID string, eventType EventType, data map[string]any, previous *Event, now time.Time) (*Event, error) {
	if data == nil {
		data = map[string]any{}
	}
	prevHash := ""
	if previous != nil {
		prevHash = previous.Hash
	}
	ts := Timestamp(now)

	hash, err := ComputeHash(userID, eventType, data, prevHash, ts)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         eventType,
		Data:         data,
		Hash:         hash,
		PreviousHash: prevHash,
		CreatedAt:    ts,
	}, nil
}

// Recompute returns the hash e should carry given the hash of its predecessor
func (e *Event) Recompute(previousHash string) (string, error) {
	return ComputeHash(e.UserID, e.Type, e.Data, previousHash, e.CreatedAt)
}
