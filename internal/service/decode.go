package service

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"vault-riskbot/internal/vault"
)

// eventNamespace scopes the name-based ids derived from raw payloads.
var eventNamespace = uuid.MustParse("6f1c2d7e-52a4-4c1b-9a53-0d8e2f6b7a10")

// DecodeEvent parses an inbound payload. Envelopes carry the event under
// "data"; a bare event object is accepted as well. When the event has no
// timestamp the envelope eventTime is used.
func DecodeEvent(payload []byte) (vault.Envelope, vault.BlockchainEvent, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return vault.Envelope{}, vault.BlockchainEvent{}, &vault.DeserializationError{Reason: "payload is null"}
	}

	var env vault.Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return vault.Envelope{}, vault.BlockchainEvent{}, &vault.DeserializationError{Reason: "invalid envelope", Err: err}
	}

	data := bytes.TrimSpace(env.Data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return env, vault.BlockchainEvent{}, &vault.DeserializationError{Reason: "event data is null"}
	case len(data) == 0:
		// No envelope; the payload is the event itself.
		data = trimmed
	}

	var event vault.BlockchainEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return env, vault.BlockchainEvent{}, &vault.DeserializationError{Reason: "invalid event data", Err: err}
	}

	event.VaultID = strings.TrimSpace(event.VaultID)
	event.Network = strings.TrimSpace(event.Network)
	if event.VaultID == "" {
		return env, event, &vault.DeserializationError{Reason: "missing vaultId"}
	}
	if event.Network == "" {
		return env, event, &vault.DeserializationError{Reason: "missing network"}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = env.EventTime
	}
	return env, event, nil
}

// ResolveEventID picks the identifier stamped on the stored metrics: the
// envelope id, then the transport message id, then a name-based UUID of the
// payload so redelivery of identical bytes yields the same id.
func ResolveEventID(envelopeID, transportID string, payload []byte) string {
	if id := strings.TrimSpace(envelopeID); id != "" {
		return id
	}
	if id := strings.TrimSpace(transportID); id != "" {
		return id
	}
	return uuid.NewSHA1(eventNamespace, bytes.TrimSpace(payload)).String()
}
