package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"espressomap/internal/model"
)

// ErrBadShape is returned when a payload is neither {"events": [...]}
// nor a bare array of records.
var ErrBadShape = errors.New("events: unexpected payload shape")

// DecodeCollection accepts {"events": [...]} or [...] and returns the
// raw records. Elements that are not objects decode as empty records.
func DecodeCollection(body []byte) ([]Raw, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrBadShape
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.Join(ErrBadShape, err)
		}
	case '{':
		var wrapper struct {
			Events json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, errors.Join(ErrBadShape, err)
		}
		ev := bytes.TrimSpace(wrapper.Events)
		if len(ev) == 0 || ev[0] != '[' {
			return nil, ErrBadShape
		}
		if err := json.Unmarshal(ev, &items); err != nil {
			return nil, errors.Join(ErrBadShape, err)
		}
	default:
		return nil, ErrBadShape
	}

	raws := make([]Raw, 0, len(items))
	for _, item := range items {
		raws = append(raws, decodeObject(item))
	}
	return raws, nil
}

// DecodeRecord decodes a single object payload.
func DecodeRecord(body []byte) (Raw, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrBadShape
	}
	var raw Raw
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, errors.Join(ErrBadShape, err)
	}
	return raw, nil
}

func decodeObject(item json.RawMessage) Raw {
	var raw Raw
	if err := json.Unmarshal(item, &raw); err != nil || raw == nil {
		return Raw{}
	}
	return raw
}

// NormalizeAll normalizes every record with the same clock.
func NormalizeAll(raws []Raw, now time.Time) []model.Event {
	out := make([]model.Event, 0, len(raws))
	for _, raw := range raws {
		out = append(out, NormalizeAt(raw, now))
	}
	return out
}
