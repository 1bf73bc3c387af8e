package schema

import "wprecur/internal/openproject"

// Sanitize returns a copy of p that holds only fields s declares writable.
//
// Top-level properties pass when declared writable and not link-located;
// "_links" entries pass when declared writable. Everything else (read-only
// fields, action links, properties the schema does not know) is dropped.
// Callers that PATCH add lockVersion afterwards; it is read-only in every
// schema yet required by the API.
func Sanitize(p openproject.Payload, s *Schema) openproject.Payload {
	out := openproject.Payload{}
	for _, k := range p.Keys() {
		f, ok := s.Field(k)
		if !ok || !f.Writable || f.InLinks() {
			continue
		}
		out[k] = p[k]
	}
	if src, ok := p["_links"].(map[string]any); ok {
		links := map[string]any{}
		for k, v := range src {
			if s.Writable(k) {
				links[k] = v
			}
		}
		if len(links) > 0 {
			out["_links"] = links
		}
	}
	return out
}
