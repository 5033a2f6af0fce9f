package builder

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/estuary/flow-controller/internal/errs"
)

// nulEscape is the literal six-byte sequence that, anywhere inside a
// spec's JSON text, breaks downstream JSON-path queries: a backslash
// followed by "u0000" (case-insensitive hex digits).
var nulEscape = []byte("\\u0000")

// checkNoEscapedNUL scans raw for an escaped NUL unicode sequence. It
// operates on the raw bytes rather than the decoded value because the
// escape must never appear in the wire JSON at all, regardless of
// where in the document it occurs.
func checkNoEscapedNUL(scopeStr string, raw []byte) *errs.BuildError {
	if bytes.Contains(bytes.ToLower(raw), nulEscape) {
		return errs.NewBuildError(scopeStr, "document contains an escaped NUL, which is not permitted in any catalog spec")
	}
	return nil
}

// checkCanonicalRefs walks raw looking for "$ref" string values and
// rejects any that reference a non-canonical schema: a fragment-only
// pointer into the same document, or a fully qualified http(s) URL,
// are canonical; anything else (a relative file path, a bare
// scheme-less host) is not, since it cannot be dereferenced
// consistently once the spec is persisted independently of its source
// bundle.
func checkCanonicalRefs(scopeStr string, raw []byte) []*errs.BuildError {
	var refs []string
	collectRefs(raw, &refs)

	var out []*errs.BuildError
	for _, ref := range refs {
		if strings.HasPrefix(ref, "#") {
			continue
		}
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			continue
		}
		out = append(out, errs.NewBuildError(scopeStr, "schema $ref %q is not a canonical URI", ref))
	}
	return out
}

// collectRefs recursively collects every "$ref" string value found
// anywhere in the decoded JSON document raw.
func collectRefs(raw []byte, out *[]string) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	walkRefs(v, out)
}

func walkRefs(v interface{}, out *[]string) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if k == "$ref" {
				if s, ok := val.(string); ok {
					*out = append(*out, s)
					continue
				}
			}
			walkRefs(val, out)
		}
	case []interface{}:
		for _, item := range t {
			walkRefs(item, out)
		}
	}
}

// locationType resolves the inferred type at pointer within schema. An
// unresolved pointer is not itself a build error here since the
// schema-inference engine is an external collaborator.
func locationType(schema InferredSchema, pointer string) (LocationType, bool) {
	t, ok := schema[pointer]
	return t, ok
}
