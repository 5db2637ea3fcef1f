package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/google/uuid"
)

// Emitter is satisfied by *audit.Emitter and *audit.Queue.
type Emitter interface {
	Emit(ctx context.Context, entry audit.Entry) (*audit.Record, error)
}

// ingestNamespace derives stable record ids for payloads that carry none, so a
// redelivered message appends at most once.
var ingestNamespace = uuid.MustParse("6f1c3b8e-9d4a-4f6b-8a57-2b7e1c0d9a31")

// IngestHandler decodes EmitRequest payloads and emits them. Undecodable or invalid
// payloads are poison pills: logged, counted and acknowledged. Store failures are
// returned so the consumer retries.
func IngestHandler(em Emitter, logger *slog.Logger) HandlerFunc {
	logger = logger.With("component", "audit_ingest")

	return func(ctx context.Context, key, payload []byte) error {
		var req audit.EmitRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			ingestMessages.WithLabelValues("poison").Inc()
			logger.WarnContext(ctx, "undecodable emit request", "key", string(key), "error", err)
			return nil
		}

		entry, err := req.Entry()
		if err != nil {
			ingestMessages.WithLabelValues("poison").Inc()
			logger.WarnContext(ctx, "invalid emit request", "key", string(key), "error", err)
			return nil
		}
		if req.ID == "" {
			entry.ID = uuid.NewSHA1(ingestNamespace, payload)
		}

		if _, err := em.Emit(ctx, entry); err != nil {
			if errors.Is(err, audit.ErrInvalidAction) {
				ingestMessages.WithLabelValues("poison").Inc()
				logger.WarnContext(ctx, "rejected emit request", "key", string(key), "error", err)
				return nil
			}
			ingestMessages.WithLabelValues("retry").Inc()
			return err
		}
		ingestMessages.WithLabelValues("emitted").Inc()
		return nil
	}
}
