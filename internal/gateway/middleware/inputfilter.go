package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
)

// injectionPatterns is the case-insensitive blocked-pattern set used to
// detect prompt-injection attempts.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|above|all)\s+instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(previous|above|all)\s+instructions?`),
	regexp.MustCompile(`(?i)forget\s+(previous|above|all)\s+instructions?`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)act as (if|a|an)`),
	regexp.MustCompile(`(?i)pretend (to be|you are)`),
	regexp.MustCompile(`(?i)system:`),
	regexp.MustCompile(`(?i)\[system\]`),
	regexp.MustCompile(`(?i)<<sys>>`),
	regexp.MustCompile(`(?i)<\|system\|>`),
}

// InputFilterConfig bounds the request-scan behavior.
type InputFilterConfig struct {
	MaxStringLength  int
	DetectInjection  bool
}

// InputFilter walks the query string and JSON body, rejecting the
// first string that exceeds the length cap or matches a blocked
// prompt-injection pattern. The body is restored for downstream
// handlers regardless of outcome.
func InputFilter(cfg InputFilterConfig) func(http.Handler) http.Handler {
	maxLen := cfg.MaxStringLength
	if maxLen <= 0 {
		maxLen = 100 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, values := range r.URL.Query() {
				for _, v := range values {
					if code, msg := checkString(v, maxLen, cfg.DetectInjection); code != "" {
						WriteError(w, r, code, msg, nil)
						return
					}
				}
			}

			if r.Body != nil && hasBody(r.Method) {
				data, err := io.ReadAll(r.Body)
				if err != nil {
					if IsBodyTooLarge(err) {
						WriteError(w, r, apperrors.CodeReqTooLarge, "request body exceeds the configured limit", nil)
						return
					}
					WriteError(w, r, apperrors.CodeReqInvalid, "failed to read request body", nil)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(data))

				if len(data) > 0 {
					var parsed interface{}
					if err := json.Unmarshal(data, &parsed); err == nil {
						if code, msg := walkJSON(parsed, maxLen, cfg.DetectInjection); code != "" {
							WriteError(w, r, code, msg, nil)
							return
						}
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func walkJSON(v interface{}, maxLen int, detectInjection bool) (string, string) {
	switch t := v.(type) {
	case string:
		return checkString(t, maxLen, detectInjection)
	case map[string]interface{}:
		for _, val := range t {
			if code, msg := walkJSON(val, maxLen, detectInjection); code != "" {
				return code, msg
			}
		}
	case []interface{}:
		for _, val := range t {
			if code, msg := walkJSON(val, maxLen, detectInjection); code != "" {
				return code, msg
			}
		}
	}
	return "", ""
}

func checkString(s string, maxLen int, detectInjection bool) (string, string) {
	if len(s) > maxLen {
		return apperrors.CodeReqValidation, "string value exceeds the configured maximum length"
	}
	if detectInjection {
		for _, re := range injectionPatterns {
			if re.MatchString(s) {
				return apperrors.CodeReqInjection, "input matched a blocked prompt-injection pattern"
			}
		}
	}
	return "", ""
}
