package query

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/google/uuid"
)

var ErrUnknownFormat = errors.New("query: unknown export format")

type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// ParseFormat is lenient: empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatNDJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// Filename is the attachment name offered to clients.
func (f Format) Filename() string {
	return "action_logs." + string(f)
}

// exportRecord is the flat, stable export shape. Field order is the CSV column order.
type exportRecord struct {
	ID              string `json:"id"`
	ActionKind      string `json:"action_kind"`
	Action          string `json:"action"`
	OccurredAt      string `json:"occurred_at"`
	ActorID         string `json:"actor_id"`
	ActorName       string `json:"actor_name"`
	EntityKind      string `json:"entity_kind"`
	EntityID        string `json:"entity_id"`
	Description     string `json:"description"`
	OriginAddress   string `json:"origin_address"`
	ClientSignature string `json:"client_signature"`
	Browser         string `json:"browser"`
}

var csvHeader = []string{
	"id", "action_kind", "action", "occurred_at", "actor_id", "actor_name",
	"entity_kind", "entity_id", "description", "origin_address", "client_signature", "browser",
}

func toExport(rec *audit.Record) exportRecord {
	out := exportRecord{
		ID:              rec.ID.String(),
		ActionKind:      string(rec.Action),
		Action:          rec.Action.Label(),
		OccurredAt:      rec.OccurredAt.UTC().Format(time.RFC3339Nano),
		ActorID:         rec.ActorID(),
		Description:     rec.Description,
		OriginAddress:   rec.OriginAddress,
		ClientSignature: rec.ClientSignature,
		Browser:         audit.Browser(rec.ClientSignature),
	}
	if rec.Actor != nil {
		out.ActorName = rec.Actor.Name
	}
	if rec.Target != nil {
		out.EntityKind = rec.Target.Kind
		out.EntityID = rec.Target.ID
	}
	return out
}

func (e exportRecord) row() []string {
	return []string{
		e.ID, e.ActionKind, e.Action, e.OccurredAt, e.ActorID, e.ActorName,
		e.EntityKind, e.EntityID, e.Description, e.OriginAddress, e.ClientSignature, e.Browser,
	}
}

// Export renders every record matching f, newest first. The same store state always
// yields the same bytes.
func (s *Service) Export(ctx context.Context, f audit.Filter, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.ExportTo(ctx, &buf, f, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportTo writes the export to w and reports how many records it contained.
func (s *Service) ExportTo(ctx context.Context, w io.Writer, f audit.Filter, format Format) (int, error) {
	recs, err := s.store.Find(ctx, f, audit.OrderNewest, audit.Page{})
	if err != nil {
		return 0, err
	}
	if err := encode(w, recs, format); err != nil {
		return 0, err
	}
	return len(recs), nil
}

func encode(w io.Writer, recs []audit.Record, format Format) error {
	switch format {
	case FormatJSON:
		rows := make([]exportRecord, 0, len(recs))
		for i := range recs {
			rows = append(rows, toExport(&recs[i]))
		}
		raw, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("query: marshal export: %w", err)
		}
		raw = append(raw, '\n')
		_, err = w.Write(raw)
		return err

	case FormatNDJSON:
		enc := json.NewEncoder(w)
		for i := range recs {
			if err := enc.Encode(toExport(&recs[i])); err != nil {
				return fmt.Errorf("query: encode record: %w", err)
			}
		}
		return nil

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("query: write csv header: %w", err)
		}
		for i := range recs {
			if err := cw.Write(toExport(&recs[i]).row()); err != nil {
				return fmt.Errorf("query: write csv row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Archive is the privileged export-then-purge. Only exported records are deleted.
type Archive struct {
	Format   Format
	Data     []byte
	Exported int
	Deleted  int64
	// Cutoff pins the open upper bound, so records appended while archiving survive.
	Cutoff time.Time
}

func (s *Service) Archive(ctx context.Context, f audit.Filter, format Format) (*Archive, error) {
	cutoff := s.now().UTC()
	if f.Until == nil || f.Until.After(cutoff) {
		f.Until = &cutoff
	}

	recs, err := s.store.Find(ctx, f, audit.OrderNewest, audit.Page{})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, recs, format); err != nil {
		return nil, err
	}
	n := len(recs)

	// Delete exactly what was exported. A late, back-dated append that matches f
	// must survive until the next archive picks it up.
	var deleted int64
	if n > 0 {
		scope := f
		scope.IDs = make([]uuid.UUID, n)
		for i := range recs {
			scope.IDs[i] = recs[i].ID
		}
		deleted, err = s.store.Delete(ctx, scope)
		if err != nil {
			return nil, err
		}
	}
	s.invalidate(ctx)

	s.logger.InfoContext(ctx, "action records archived",
		"exported", n,
		"deleted", deleted,
		"cutoff", cutoff,
		"format", format,
	)
	return &Archive{Format: format, Data: buf.Bytes(), Exported: n, Deleted: deleted, Cutoff: *f.Until}, nil
}
