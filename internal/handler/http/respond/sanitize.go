package respond

import (
	"regexp"
)

var (
	// The Anthropic pattern must run first; it is the more specific prefix.
	anthropicKeyPattern = regexp.MustCompile(`sk-ant-[a-zA-Z0-9-_]+`)
	openaiKeyPattern    = regexp.MustCompile(`sk-[a-zA-Z0-9_-]{10,}`)
	bearerPattern       = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]+`)
	urlPasswordPattern  = regexp.MustCompile(`://([^:/@]+):([^@]+)@`)
)

// SanitizeError returns the error message with API keys, bearer tokens and
// URL passwords masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = anthropicKeyPattern.ReplaceAllString(msg, "sk-ant-****")
	msg = openaiKeyPattern.ReplaceAllString(msg, "sk-****")
	msg = bearerPattern.ReplaceAllString(msg, "Bearer ****")
	msg = urlPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
