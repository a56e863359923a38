package redact

import (
	"encoding/json"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks credential fields in JSON documents before they are logged.
type Redactor struct {
	fieldsToRedact map[string]struct{} // lower-cased field names
}

// NewRedactor creates a Redactor for the given field names. Matching is case-insensitive.
func NewRedactor(fields ...string) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		fieldSet[strings.ToLower(field)] = struct{}{}
	}
	return &Redactor{fieldsToRedact: fieldSet}
}

// Redact returns a copy of doc with every matching field replaced by RedactedPlaceholder,
// at any depth. redacted reports whether anything was masked.
func (r *Redactor) Redact(doc []byte) (out []byte, redacted bool, err error) {
	if len(r.fieldsToRedact) == 0 || len(doc) == 0 {
		return doc, false, nil
	}

	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, false, err
	}
	v, redacted = r.walk(v)
	if !redacted {
		return doc, false, nil
	}
	out, err = json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// String is Redact for logging: on invalid JSON it returns a fixed placeholder
// instead of the original text.
func (r *Redactor) String(doc []byte) string {
	out, _, err := r.Redact(doc)
	if err != nil {
		return "[UNPARSABLE]"
	}
	return string(out)
}

func (r *Redactor) walk(v interface{}) (interface{}, bool) {
	redacted := false
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			if _, ok := r.fieldsToRedact[strings.ToLower(k)]; ok {
				node[k] = RedactedPlaceholder
				redacted = true
				continue
			}
			var changed bool
			node[k], changed = r.walk(child)
			redacted = redacted || changed
		}
	case []interface{}:
		for i, child := range node {
			var changed bool
			node[i], changed = r.walk(child)
			redacted = redacted || changed
		}
	}
	return v, redacted
}
