package engine

import (
	"encoding/json"

	"concord-core/internal/events"
	concord_errors "concord-core/pkg/errors"

	"github.com/pkg/errors"
)

// DecodePayload parses the Engine's decrypted application payload into
// the tagged union. A payload with zero or multiple populated variants
// is malformed: it is acknowledged and dropped, never retried.
func DecodePayload(raw []byte) (events.Decoded, error) {
	var decoded events.Decoded
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return events.Decoded{}, errors.Wrap(concord_errors.ErrMalformedEvent, err.Error())
	}
	if _, ok := decoded.Classify(); !ok {
		return events.Decoded{}, errors.Wrap(concord_errors.ErrMalformedEvent, "payload must populate exactly one variant")
	}
	return decoded, nil
}

// DecodeInbound parses a full engine-inbound frame: scope plus payload.
func DecodeInbound(raw []byte) (events.Inbound, error) {
	var inbound events.Inbound
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return events.Inbound{}, errors.Wrap(concord_errors.ErrMalformedEvent, err.Error())
	}
	if inbound.Scope.SenderIdentity == "" {
		return events.Inbound{}, errors.Wrap(concord_errors.ErrUnknownSender, "frame carries no sender identity")
	}
	if _, ok := inbound.Decoded.Classify(); !ok {
		return events.Inbound{}, errors.Wrap(concord_errors.ErrMalformedEvent, "payload must populate exactly one variant")
	}
	return inbound, nil
}
