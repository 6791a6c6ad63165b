// Package source implements the split/combine heuristic between a
// topic's combined starter (or submitted) code and the editable
// HTML/CSS/JS buffers.
//
// The heuristic is lossy and order-sensitive: only the first <style>
// and first <script> block are honored. That matches how starter
// content is authored and is deliberately reproduced as-is.
package source

import (
	"strings"

	"codeloom/internal/domain/model"
)

// Skeleton is the minimal HTML document used when a split leaves
// behind a bare body fragment.
const Skeleton = `<!DOCTYPE html>
<html>
<head></head>
<body>

</body>
</html>`

// Split breaks combined web source back into HTML/CSS/JS buffers.
// langKey is the challenge's declared language and only matters when
// the combined text carries no <style>/<script> markers.
func Split(combined, langKey string) model.BufferSet {
	if !strings.Contains(combined, "<style") && !strings.Contains(combined, "<script") {
		// No markers: the whole text belongs to the declared
		// language's buffer.
		switch langKey {
		case "html":
			return model.BufferSet{HTML: combined}
		case "css":
			return model.BufferSet{HTML: Skeleton, CSS: combined}
		default:
			return model.BufferSet{HTML: Skeleton, JS: combined}
		}
	}

	rest := combined
	css, rest := extractFirstBlock(rest, "style")
	js, rest := extractFirstBlock(rest, "script")

	html := strings.TrimSpace(rest)
	if !strings.Contains(html, "<!DOCTYPE") {
		// What remains is just a body fragment once style/script were
		// stripped; fall back to the skeleton.
		html = Skeleton
	}

	return model.BufferSet{HTML: html, CSS: css, JS: js}
}

// Combine concatenates the three buffers into the marked-section form
// submitted for grading. Split of the result recovers each fragment
// (whitespace-trimmed).
func Combine(buffers model.BufferSet) string {
	var b strings.Builder
	b.WriteString(buffers.HTML)
	b.WriteString("\n\n<style>\n")
	b.WriteString(buffers.CSS)
	b.WriteString("\n</style>\n\n<script>\n")
	b.WriteString(buffers.JS)
	b.WriteString("\n</script>")
	return b.String()
}

// extractFirstBlock returns the trimmed inner text of the first
// <tag ...>...</tag> block and the input with that block removed. An
// unterminated or absent block yields an empty inner text and the
// input unchanged.
func extractFirstBlock(s, tag string) (inner, remainder string) {
	open := "<" + tag
	close := "</" + tag + ">"

	start := strings.Index(s, open)
	if start < 0 {
		return "", s
	}
	gt := strings.Index(s[start:], ">")
	if gt < 0 {
		return "", s
	}
	contentStart := start + gt + 1
	end := strings.Index(s[contentStart:], close)
	if end < 0 {
		return "", s
	}
	inner = strings.TrimSpace(s[contentStart : contentStart+end])
	remainder = s[:start] + s[contentStart+end+len(close):]
	return inner, remainder
}
