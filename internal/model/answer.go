package model

import "encoding/json"

// AnswerValue holds one candidate answer: a single option identity, a set
// of option identities, or free text. Which field is populated follows the
// question type, but the engine never validates the shape — the rendering
// layer owns that contract.
type AnswerValue struct {
	OptionID  string   `json:"option_id,omitempty"`
	OptionIDs []string `json:"option_ids,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// IsEmpty reports whether the value carries any answer content.
func (v AnswerValue) IsEmpty() bool {
	return v.OptionID == "" && len(v.OptionIDs) == 0 && v.Text == ""
}

// Normalize resolves ambiguous payloads: when both a scalar option and a
// selection set are present, the set wins.
func (v AnswerValue) Normalize() AnswerValue {
	if len(v.OptionIDs) > 0 {
		v.OptionID = ""
	}
	return v
}

// ParseAnswerValue decodes a stored answer payload. The empty string
// decodes to an empty value rather than an error so stale hash fields
// cannot poison a session restore.
func ParseAnswerValue(raw string) (AnswerValue, error) {
	var v AnswerValue
	if raw == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return AnswerValue{}, err
	}
	return v.Normalize(), nil
}

// Encode serializes the value for the Redis answers hash and the persist
// queue. Values are idempotent snapshots, so last-write-wins is safe.
func (v AnswerValue) Encode() (string, error) {
	b, err := json.Marshal(v.Normalize())
	if err != nil {
		return "", err
	}
	return string(b), nil
}
