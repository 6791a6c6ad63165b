// Package sandbox builds the self-contained HTML documents executed
// inside the isolated browser frame. The renderer only produces the
// document string; nothing is executed server-side.
package sandbox

import (
	"strconv"
	"strings"
	"time"

	"codeloom/internal/domain/model"
)

// TestResultPrefix marks a console message that carries structured
// test output instead of user-visible text.
const TestResultPrefix = "TEST_RESULTS:"

// Render produces the sandbox document for one run. The document
// embeds the user's buffers, a console-forwarding shim tagged with
// runID, the user JS wrapped in try/catch, and, when testScript is
// non-empty, the test script scheduled after testDelay so DOM
// mutations settle first.
func Render(buffers model.BufferSet, testScript string, runID uint64, testDelay time.Duration) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<style>\n")
	b.WriteString(buffers.CSS)
	b.WriteString("\n</style>\n</head>\n<body>\n")
	b.WriteString(BodyContent(buffers.HTML))
	b.WriteString("\n<script>\n")
	b.WriteString(consoleShim(runID))
	b.WriteString("\n</script>\n<script>\ntry {\n")
	b.WriteString(buffers.JS)
	b.WriteString("\n} catch (err) {\n  console.error(err.message);\n}\n</script>\n")

	if testScript != "" {
		b.WriteString("<script>\nsetTimeout(function() {\n  try {\n")
		b.WriteString(testScript)
		b.WriteString("\n  } catch (err) {\n")
		b.WriteString("    console.log('" + TestResultPrefix + "' + JSON.stringify(['FAIL:' + err.message]));\n")
		b.WriteString("  }\n}, " + strconv.FormatInt(testDelay.Milliseconds(), 10) + ");\n</script>\n")
	}

	b.WriteString("</body>\n</html>")
	return b.String()
}

// BodyContent returns the inner text of the first <body>...</body>
// block, or the whole buffer when no body tag is present. Users often
// author bare markup fragments.
func BodyContent(html string) string {
	start := strings.Index(html, "<body")
	if start < 0 {
		return html
	}
	gt := strings.Index(html[start:], ">")
	if gt < 0 {
		return html
	}
	contentStart := start + gt + 1
	end := strings.Index(html[contentStart:], "</body>")
	if end < 0 {
		return html
	}
	return html[contentStart : contentStart+end]
}

// consoleShim wraps log/error/warn to forward every call to the parent
// context as {type:'console', level, args, runId}, then calls through
// to the original so debugging inside the frame still works.
func consoleShim(runID uint64) string {
	id := strconv.FormatUint(runID, 10)
	return `(function() {
  var RUN_ID = ` + id + `;
  function forward(level, args) {
    var text = [];
    for (var i = 0; i < args.length; i++) { text.push(String(args[i])); }
    window.parent.postMessage({ type: 'console', level: level, args: text, runId: RUN_ID }, '*');
  }
  ['log', 'error', 'warn'].forEach(function(level) {
    var original = console[level];
    console[level] = function() {
      forward(level, arguments);
      original.apply(console, arguments);
    };
  });
})();`
}
