package catalog

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

const maxPayloadLog = 4096

// FormatPayload renders a request/response body for logs: indented when it is
// JSON, raw text otherwise, and a placeholder for binary data.
func FormatPayload(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ""
	}
	if json.Valid(b) {
		var out bytes.Buffer
		if err := json.Indent(&out, b, "", "  "); err == nil {
			return truncate(out.String(), maxPayloadLog)
		}
	}
	if !utf8.Valid(b) {
		return "<binary>"
	}
	return truncate(string(b), maxPayloadLog)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
