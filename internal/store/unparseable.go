package store

import (
	"context"
	"time"
)

// RecordUnparseableWebhook dead-letters a webhook body that failed to parse
// against any known event schema (spec.md §4.4 step 3).
func (s *Store) RecordUnparseableWebhook(ctx context.Context, origin, eventType string, rawBody []byte, parseErr error) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unparseable_webhooks (origin, event_type, raw_body, parse_error, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, origin, eventType, string(rawBody), parseErr.Error(), time.Now().UTC())
	if err != nil {
		return newErr(KindTransient, "record unparseable webhook: %w", err)
	}
	return nil
}
