package log

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Redacted replaces every secret Redact finds.
const Redacted = "[REDACTED]"

type redaction struct {
	re   *regexp.Regexp
	with string
}

// Broker and database errors echo DSNs and AUTH arguments back verbatim.
var redactions = []redaction{
	{re: regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`), with: `$1:` + Redacted + `@`},
	{re: regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`), with: "Bearer " + Redacted},
	{re: regexp.MustCompile(`\beyJ[\w-]+\.[\w-]+\.[\w-]+`), with: Redacted},
	{re: regexp.MustCompile(`(?i)\b(password|passwd|secret|api[-_]?key|token)\s*[:=]\s*[^\s,;&]+`), with: `$1=` + Redacted},
	{re: regexp.MustCompile(`(?i)([?&](?:password|pass|pwd|token|api[_-]?key)=)[^&\s]+`), with: `$1` + Redacted},
	{re: regexp.MustCompile(`\bAUTH\s+\S+(\s+\S+)?`), with: "AUTH " + Redacted},
}

// Redact masks credentials in msg.
func Redact(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}

	return msg
}

// SafeError logs err at error level. In production only the error type is
// written; otherwise the message is passed through Redact.
func SafeError(logger Logger, ctx context.Context, msg string, err error, production bool) {
	if logger == nil || err == nil || !logger.Enabled(LevelError) {
		return
	}

	if production {
		logger.Log(ctx, LevelError, msg, String("error_type", fmt.Sprintf("%T", err)))
		return
	}

	logger.Log(ctx, LevelError, msg, String("error", Redact(strings.TrimSpace(err.Error()))))
}
