// Package sanitize redacts credentials from command lines and their output
// before they are logged. Scheduler invocations inherit the CI job
// environment, which carries runner tokens.
package sanitize

import (
	"net/url"
	"regexp"
)

const redacted = "[REDACTED]"

type secretPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

var secretPatterns = []secretPattern{
	{
		// CI_JOB_TOKEN=..., CI_REGISTRY_PASSWORD=..., CUSTOM_ENV_CI_JOB_TOKEN=...
		pattern:     regexp.MustCompile(`(?i)\b((?:[A-Z0-9_]*_)?(?:TOKEN|PASSWORD|SECRET)=)\S+`),
		replacement: `${1}` + redacted,
	},
	{
		pattern:     regexp.MustCompile(`(?i)(Authorization:\s*(?:Bearer|token)\s+)\S+`),
		replacement: `${1}` + redacted,
	},
	{
		pattern:     regexp.MustCompile(`(?i)((?:api-key|token|secret|password|key)(?:[\s=:]*['"]?))([a-zA-Z0-9_.-]{20,})(['"]?)`),
		replacement: `${1}` + redacted + `${3}`,
	},
	{
		pattern:     regexp.MustCompile(`glpat-[a-zA-Z0-9_-]{20,}`),
		replacement: redacted,
	},
	{
		pattern:     regexp.MustCompile(`glcbt-[a-zA-Z0-9_-]{20,}`),
		replacement: redacted,
	},
	{
		pattern:     regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`),
		replacement: redacted,
	},
}

// Args returns a copy of args with credentials replaced by [REDACTED].
func Args(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = String(arg)
	}
	return out
}

// String redacts a single value.
func String(s string) string {
	if u, err := url.Parse(s); err == nil && u.User != nil {
		if _, isSet := u.User.Password(); isSet {
			u.User = url.UserPassword(u.User.Username(), redacted)
			return u.String()
		}
	}
	for _, p := range secretPatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
