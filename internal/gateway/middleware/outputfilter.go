package middleware

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// detector pairs a pattern with the masker applied to each match.
type detector struct {
	name    string
	pattern *regexp.Regexp
	mask    func(string) string
}

var detectors = []detector{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), maskEmail},
	{"phone", regexp.MustCompile(`(?:\+?\d{1,3}[\s\-]?)?(?:\(?\d{3,4}\)?[\s\-]?)?\d{3,4}[\s\-]?\d{4}`), maskPhone},
	{"cn_id", regexp.MustCompile(`\b\d{17}[\dXx]\b`), maskID},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), maskCard},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), maskCard},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), maskIPv4},
	{"api_key", regexp.MustCompile(`\b(sk|pk|rk)_(live|test)_[A-Za-z0-9]{16,}\b`), maskToken},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`), sentinelMask},
	{"aws_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), maskToken},
	{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), sentinelMask},
	{"password_field", regexp.MustCompile(`"password"\s*:\s*"[^"]*"`), maskPasswordField},
}

func maskEmail(s string) string {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return "***@***.***"
	}
	local := s[:at]
	rest := s[at+1:]
	dot := strings.LastIndexByte(rest, '.')
	tld := "***"
	if dot >= 0 {
		tld = rest[dot+1:]
	}
	prefix := local
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return prefix + "***@***." + tld
}

func maskPhone(s string) string {
	digits := onlyDigits(s)
	if len(digits) < 4 {
		return "****"
	}
	return "****" + digits[len(digits)-4:]
}

func maskCard(s string) string {
	last4 := onlyDigits(s)
	if len(last4) >= 4 {
		last4 = last4[len(last4)-4:]
	}
	out := make([]rune, 0, len(s))
	seen := 0
	total := len(onlyDigits(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			seen++
			if seen > total-4 {
				out = append(out, r)
			} else {
				out = append(out, '*')
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func maskID(s string) string {
	if len(s) < 7 {
		return "***"
	}
	return s[:3] + strings.Repeat("*", len(s)-7) + s[len(s)-4:]
}

func maskIPv4(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return "*.*.*.*"
	}
	return parts[0] + "." + parts[1] + ".*.*"
}

func maskToken(s string) string {
	if len(s) <= 8 {
		return sentinelMask(s)
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func sentinelMask(string) string { return "[REDACTED]" }

func maskPasswordField(string) string { return `"password":"[REDACTED]"` }

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// OutputFilterConfig controls stage's scan and masking
// behavior.
type OutputFilterConfig struct {
	MaxScanBytes     int
	MaskOutput       bool
	BlockOnDetection bool
	FieldWhitelist   []string
	Logger           obs.Logger
}

// OutputFilter scans the JSON response body for PII/secrets after the
// handler runs, masks or blocks on detection, and recomputes
// Content-Length.
func OutputFilter(cfg OutputFilterConfig) func(http.Handler) http.Handler {
	maxScan := cfg.MaxScanBytes
	if maxScan <= 0 {
		maxScan = 256 * 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bw := newBufferedWriter(w)
			next.ServeHTTP(bw, r)

			body := bw.buf.Bytes()
			contentType := bw.header.Get("Content-Type")
			if !strings.Contains(contentType, "json") || len(body) > maxScan {
				bw.flush()
				return
			}

			scanTarget := body
			if len(cfg.FieldWhitelist) > 0 {
				scanTarget = whitelistedFields(body, cfg.FieldWhitelist)
			}
			_, types := scanAndMask(scanTarget, false)
			masked := body
			if len(types) > 0 && cfg.MaskOutput {
				masked, _ = scanAndMask(body, true)
			}
			if len(types) > 0 {
				logger.InfoContext(r.Context(), "output filter detected sensitive content", map[string]interface{}{"types": types})
				if cfg.BlockOnDetection {
					bw.header.Set("Content-Type", "application/json")
					bw.statusCode = apperrors.StatusForCode(apperrors.CodeOutputBlocked)
					bw.buf.Reset()
					enc, _ := json.Marshal(ErrorEnvelope{
						Error: ErrorDetail{Code: apperrors.CodeOutputBlocked, Message: "response blocked: sensitive content detected"},
						Meta:  metaFromContext(r),
					})
					bw.buf.Write(enc)
					bw.flush()
					return
				}
				if cfg.MaskOutput {
					bw.buf.Reset()
					bw.buf.Write(masked)
					bw.header.Set("Content-Length", strconv.Itoa(len(masked)))
				}
			}
			bw.flush()
		})
	}
}

// whitelistedFields extracts the marshaled values of the given top-level
// field names from a JSON object body, so detection can be scoped to them
// without the masking pass losing the rest of the document's structure.
func whitelistedFields(body []byte, fields []string) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	var buf []byte
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			buf = append(buf, v...)
			buf = append(buf, ' ')
		}
	}
	return buf
}

func scanAndMask(body []byte, mask bool) ([]byte, []string) {
	out := body
	var found []string
	for _, d := range detectors {
		if d.pattern.Match(out) {
			found = append(found, d.name)
			if mask {
				out = d.pattern.ReplaceAllFunc(out, func(m []byte) []byte {
					return []byte(d.mask(string(m)))
				})
			}
		}
	}
	return out, found
}
