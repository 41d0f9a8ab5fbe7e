package protocol

import (
	"encoding/json"
	"errors"
)

// ErrEmptyPayload is returned when an envelope carries no payload but
// the event requires one.
var ErrEmptyPayload = errors.New("empty payload")

// DecodePayload re-marshals an envelope payload into a typed request.
// Payloads arrive as map[string]interface{} after JSON decoding, so a
// round trip through encoding/json is the conversion.
func DecodePayload(payload interface{}, dst interface{}) error {
	if payload == nil {
		return ErrEmptyPayload
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
