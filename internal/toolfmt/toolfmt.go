// Package toolfmt turns a (tool name, raw JSON input) pair into the
// human-readable one-liner shown in progress events (spec.md §4.F "Tool
// detail formatter"). It has no dependency on session or streaming so both
// can share it without an import cycle: session emits the formatted detail
// the moment a permission_request frame arrives (it alone has the raw
// input), and streaming only renders the already-formatted string.
package toolfmt

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

var icons = map[string]string{
	"read":      "📖",
	"write":     "✍️",
	"edit":      "✏️",
	"bash":      "💻",
	"glob":      "🔍",
	"grep":      "🔎",
	"websearch": "🌐",
	"webfetch":  "🌐",
	"task":      "🤖",
	"todowrite": "📋",
	"notebookedit": "📓",
}

const defaultIcon = "🔧"

func icon(tool string) string {
	if i, ok := icons[strings.ToLower(tool)]; ok {
		return i
	}
	return defaultIcon
}

// Detail renders the icon-prefixed one-liner for a tool_start progress
// event, e.g. "📖 Reading main.go" or "💻 Running: go test ./...".
func Detail(tool string, input json.RawMessage) string {
	return fmt.Sprintf("%s %s", icon(tool), describe(tool, input))
}

func describe(tool string, input json.RawMessage) string {
	var fields map[string]any
	if len(input) > 0 {
		_ = json.Unmarshal(input, &fields)
	}

	if p := firstString(fields, "file_path", "path", "filename"); p != "" {
		return fmt.Sprintf("%s %s", verb(tool), filepath.Base(p))
	}
	if cmd := firstString(fields, "command"); cmd != "" {
		return "Running: " + truncate(cmd, 60)
	}
	if q := firstString(fields, "pattern", "query", "regex"); q != "" {
		return "Searching: " + q
	}
	if d := firstString(fields, "description"); d != "" {
		return truncate(d, 80)
	}
	return tool
}

func verb(tool string) string {
	switch strings.ToLower(tool) {
	case "read":
		return "Reading"
	case "write":
		return "Writing"
	case "edit", "notebookedit":
		return "Editing"
	default:
		return "Opening"
	}
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
