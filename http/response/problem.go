package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Problem is an RFC 7807 problem document, used for field-level validation failures.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

func (p *Problem) Render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// ErrorProblem sends an RFC 7807 response; details lands in the errors member.
func ErrorProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string, details any) {
	(&Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  traceIDOf(r),
		Errors:   details,
	}).Render(w)
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationProblem renders err as a 400 problem. validator errors become a field list.
func ValidationProblem(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		ErrorProblem(w, r, http.StatusBadRequest, ErrValidation, err.Error(), nil)
		return
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: snake(fe.Field()), Rule: fe.Tag(), Param: fe.Param()})
	}
	ErrorProblem(w, r, http.StatusBadRequest, ErrValidation, "request failed validation", fields)
}

// snake converts a Go field name (EntityKind) to its wire name (entity_kind).
func snake(s string) string {
	var b strings.Builder
	for i, c := range s {
		if c >= 'A' && c <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteRune(c)
	}
	return b.String()
}
