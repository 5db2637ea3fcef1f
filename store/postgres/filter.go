package postgres

import (
	"fmt"
	"strings"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/google/uuid"
)

// where accumulates AND-ed clauses with positional $n placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func buildWhere(f audit.Filter) *where {
	w := &where{}

	if f.ActorID != "" {
		w.add("actor_id = " + w.arg(f.ActorID))
	}
	if len(f.Actions) > 0 {
		ph := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			ph[i] = w.arg(string(a))
		}
		w.add("action_kind IN (" + strings.Join(ph, ", ") + ")")
	}
	if f.Kind != "" {
		w.add("entity_kind = " + w.arg(f.Kind))
	}
	if f.Target != nil {
		w.add("entity_kind = " + w.arg(f.Target.Kind))
		w.add("entity_id = " + w.arg(f.Target.ID))
	}
	if f.Since != nil {
		w.add("occurred_at >= " + w.arg(f.Since.UTC()))
	}
	if f.Until != nil {
		w.add("occurred_at < " + w.arg(f.Until.UTC()))
	}
	if len(f.IDs) > 0 {
		w.add("id = ANY(" + w.arg(uuidArray(f.IDs)) + "::uuid[])")
	}
	if f.Search != "" {
		p := w.arg("%" + escapeLike(f.Search) + "%")
		w.add(fmt.Sprintf("(description ILIKE %[1]s OR origin_address ILIKE %[1]s OR client_signature ILIKE %[1]s OR COALESCE(actor_name, '') ILIKE %[1]s)", p))
	}
	return w
}

// uuidArray renders ids as a Postgres array literal.
func uuidArray(ids []uuid.UUID) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(id.String())
	}
	b.WriteByte('}')
	return b.String()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func orderBy(o audit.Order) string {
	if o == audit.OrderOldest {
		return " ORDER BY occurred_at ASC, seq ASC"
	}
	return " ORDER BY occurred_at DESC, seq DESC"
}

func statsExpr(dim audit.Dimension) (string, error) {
	switch dim {
	case audit.DimensionAction:
		return "action_kind", nil
	case audit.DimensionKind:
		return "COALESCE(entity_kind, '')", nil
	case audit.DimensionActor:
		return "COALESCE(actor_id, '')", nil
	case audit.DimensionDay:
		return `to_char(date_trunc('day', occurred_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD')`, nil
	case audit.DimensionHour:
		return `to_char(date_trunc('hour', occurred_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24:00"Z"')`, nil
	}
	return "", audit.ErrInvalidDimension
}
