package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidateJSON returns a Validator that strictly decodes the payload into T
// (unknown fields are rejected) and then runs check, if any.
//
//	registry.ValidateJSON(func(p createPayload) error {
//		if p.Name == "" {
//			return errors.New("name is required")
//		}
//		return nil
//	})
func ValidateJSON[T any](check func(T) error) Validator {
	return func(payload json.RawMessage) error {
		var v T
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if check == nil {
			return nil
		}
		return check(v)
	}
}

// Decode unmarshals a payload that has already passed validation.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}
