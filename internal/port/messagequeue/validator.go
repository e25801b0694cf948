package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectWebhookProcessed:
		var p WebhookProcessedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ConnectionID == "" || p.Outcome == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingField)
		}
	case SubjectSyncProgress:
		var p SyncProgressPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.OperationID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingField)
		}
	case SubjectSyncCancel:
		var p SyncCancelPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.OperationID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingField)
		}
	}
	return nil
}

var errMissingField = errors.New("required field missing")
