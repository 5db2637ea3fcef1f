package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/entity"
)

const dateLayout = "2006-01-02"

// ListParams is a parsed listing request. Zero Page and PerPage mean "use defaults".
type ListParams struct {
	Filter  audit.Filter
	Page    int
	PerPage int
}

// ParseListParams reads filters from a query string. Malformed values are ignored
// rather than rejected, so a bad page number simply yields the first page.
//
//	actor_id, action_kind (comma list), kind, entity_id (with kind), since, until,
//	search (alias q), page, per_page (alias page_size)
//
// since/until accept RFC3339 or YYYY-MM-DD. A date-only until includes that whole day.
func ParseListParams(v url.Values) ListParams {
	var p ListParams
	f := &p.Filter

	f.ActorID = strings.TrimSpace(v.Get("actor_id"))
	f.Kind = strings.TrimSpace(v.Get("kind"))
	if id := strings.TrimSpace(v.Get("entity_id")); id != "" && f.Kind != "" {
		f.Target = &entity.Ref{Kind: f.Kind, ID: id}
	}

	for _, raw := range v["action_kind"] {
		for _, part := range strings.Split(raw, ",") {
			if a, ok := audit.ParseActionKind(part); ok {
				f.Actions = append(f.Actions, a)
			}
		}
	}

	if t, ok := parseBound(v.Get("since"), false); ok {
		f.Since = &t
	}
	if t, ok := parseBound(v.Get("until"), true); ok {
		f.Until = &t
	}

	f.Search = strings.TrimSpace(v.Get("search"))
	if f.Search == "" {
		f.Search = strings.TrimSpace(v.Get("q"))
	}

	p.Page = atoi(v.Get("page"))
	p.PerPage = atoi(firstNonEmpty(v.Get("per_page"), v.Get("page_size")))
	return p
}

// parseBound reads an RFC3339 instant or a calendar date (UTC). For an upper bound a
// date is moved to the next midnight, keeping the filter half-open.
func parseBound(s string, upper bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	if upper {
		t = t.Add(24 * time.Hour)
	}
	return t, true
}

// ParseLimit reads a positive integer, 0 when absent or malformed.
func ParseLimit(s string) int {
	return atoi(s)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
