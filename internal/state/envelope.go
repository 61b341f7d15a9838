package state

import (
	"encoding/json"
	"fmt"
)

// envelopeVersion is the current serialization schema version. Bump when a
// stored payload changes shape incompatibly.
const envelopeVersion = 1

// envelope wraps every persisted value so the storage format can evolve and
// be checked on read.
type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

// encode wraps data in a versioned envelope and returns its JSON text.
func encode(data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshalling payload: %w", err)
	}
	out, err := json.Marshal(envelope{V: envelopeVersion, Data: raw})
	if err != nil {
		return "", fmt.Errorf("marshalling envelope: %w", err)
	}
	return string(out), nil
}

// decode unwraps a versioned envelope into dest, rejecting unknown versions.
func decode(raw string, dest any) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("unmarshalling envelope: %w", err)
	}
	if env.V != envelopeVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", env.V, envelopeVersion)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("unmarshalling payload: %w", err)
	}
	return nil
}
