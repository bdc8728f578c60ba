package outbox

import (
	"strings"

	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

// maxErrorLength bounds last_error in runes.
const maxErrorLength = 512

const errorTruncatedSuffix = "... (truncated)"

func sanitizeErrorForStorage(err error) string {
	if err == nil {
		return ""
	}

	return SanitizeErrorMessageForStorage(err.Error())
}

// SanitizeErrorMessageForStorage redacts credentials and caps msg so it can
// be written to last_error.
func SanitizeErrorMessageForStorage(msg string) string {
	runes := []rune(libLog.Redact(strings.TrimSpace(msg)))
	if len(runes) <= maxErrorLength {
		return string(runes)
	}

	keep := maxErrorLength - len([]rune(errorTruncatedSuffix))

	return string(runes[:keep]) + errorTruncatedSuffix
}
