// internal/hashkey/hashkey.go
//
// Canonical lookup-key builder for redirect records.
//
// Context
// -------
// A redirect rule is addressed by the triple (source path, source query,
// language).  The store indexes rules by a single printable key so the
// request path can resolve a match with one indexed lookup.  Two rules that
// differ only in query-parameter order must collapse to the same key, so the
// triple is canonicalised before hashing: map keys are sorted ascending at
// every level, and multi-value parameters have their value lists sorted too.
//
// The encoded structure is `{language, source}` plus a `source_query` member
// that is present *only* when the query is non-empty.  An empty query must
// hash identically to "no query at all" because rules created before query
// matching existed carry no query member; including an empty map would
// silently orphan every one of them.  Do not "simplify" this.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package hashkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sort"
)

// Compute returns the canonical key for (sourcePath, sourceQuery, language).
// The result is a fixed-length, URL-safe base64 string.  Identical inputs,
// regardless of map iteration or value insertion order, produce identical
// output.
func Compute(sourcePath string, sourceQuery url.Values, language string) string {
	var b bytes.Buffer
	b.WriteByte('{')

	// Top-level keys in ascending order: language < source < source_query.
	b.WriteString(`"language":`)
	writeJSONString(&b, language)
	b.WriteString(`,"source":`)
	writeJSONString(&b, sourcePath)

	if len(sourceQuery) > 0 {
		b.WriteString(`,"source_query":`)
		writeCanonicalQuery(&b, sourceQuery)
	}
	b.WriteByte('}')

	sum := sha256.Sum256(b.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// writeCanonicalQuery encodes a query map with sorted keys.  A single-value
// parameter encodes as a bare string; a multi-value parameter encodes as a
// sorted list, so `?a=2&a=1` and `?a=1&a=2` are the same rule.
func writeCanonicalQuery(b *bytes.Buffer, q url.Values) {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(b, k)
		b.WriteByte(':')

		vals := q[k]
		switch len(vals) {
		case 0:
			writeJSONString(b, "")
		case 1:
			writeJSONString(b, vals[0])
		default:
			sorted := make([]string, len(vals))
			copy(sorted, vals)
			sort.Strings(sorted)
			b.WriteByte('[')
			for j, v := range sorted {
				if j > 0 {
					b.WriteByte(',')
				}
				writeJSONString(b, v)
			}
			b.WriteByte(']')
		}
	}
	b.WriteByte('}')
}

// writeJSONString appends s as a JSON string literal.  encoding/json handles
// escaping; errors are impossible for plain strings.
func writeJSONString(b *bytes.Buffer, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}
