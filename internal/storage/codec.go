package storage

import (
	"encoding/json"
	"fmt"

	"github.com/meridianlabs/meridian/internal/model"
)

// Phase errors and activity payloads are stored as JSON text columns so the
// record set stays flat across backends.

func encodePhaseErrors(errs []model.PhaseError) (string, error) {
	if len(errs) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("storage: encode phase errors: %w", err)
	}
	return string(raw), nil
}

func decodePhaseErrors(raw string) ([]model.PhaseError, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var errs []model.PhaseError
	if err := json.Unmarshal([]byte(raw), &errs); err != nil {
		return nil, fmt.Errorf("storage: decode phase errors: %w", err)
	}
	return errs, nil
}

func encodePayload(payload map[string]string) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("storage: encode payload: %w", err)
	}
	return string(raw), nil
}

func decodePayload(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("storage: decode payload: %w", err)
	}
	return payload, nil
}
