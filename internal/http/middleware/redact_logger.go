package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RedactOptions adds headers to mask on top of Authorization, Cookie and
// Set-Cookie. Matching is case-insensitive.
type RedactOptions struct {
	MaskHeaders []string
}

const redacted = "[REDACTED]"

var (
	emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	// Three base64url segments starting with a JSON header: a JWT.
	jwtRE = regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	// token=..., access_token=..., id_token=..., api_key=...
	secretParamRE = regexp.MustCompile(`(?i)\b((?:access_|id_|refresh_)?token|api_?key|secret)=[^&]*`)
)

// redactValue scrubs credentials and email addresses from free text.
func redactValue(s string) string {
	if s == "" {
		return s
	}
	s = secretParamRE.ReplaceAllString(s, "$1="+redacted)
	s = jwtRE.ReplaceAllString(s, "[REDACTED:jwt]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// RedactingLogger is Logger with personal data scrubbed: credentials and
// emails are removed from the query string, and request headers are logged
// with the masked ones replaced. Bodies are never logged.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]bool{"authorization": true, "cookie": true, "set-cookie": true}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = true
		}
	}

	return accessLog(func(c *gin.Context, ev *zerolog.Event) {
		headers := zerolog.Dict()
		for k, vv := range c.Request.Header {
			if masked[strings.ToLower(k)] {
				headers.Str(k, redacted)
				continue
			}
			headers.Str(k, redactValue(strings.Join(vv, ", ")))
		}
		ev.Str("query", redactValue(truncate(c.Request.URL.RawQuery, maxQueryLogLength))).
			Dict("headers", headers)
	})
}
