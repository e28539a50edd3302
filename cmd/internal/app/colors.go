package app

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBright  = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// visualLen is the on-screen rune count of s, ignoring color escapes.
func visualLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// wrapSegments packs segments into lines no wider than width. Segments on the
// same line are joined by sep; continuation lines start with contPrefix. A
// single segment wider than the line is truncated with an ellipsis rather
// than overflowing.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	var lines []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, seg := range segments {
		if seg == "" {
			continue
		}

		prefix := ""
		avail := width
		if curLen == 0 && len(lines) > 0 {
			prefix = contPrefix
			avail -= visualLen(contPrefix)
		}

		segLen := visualLen(seg)
		if curLen > 0 && curLen+visualLen(sep)+segLen > width {
			flush()
			prefix = contPrefix
			avail = width - visualLen(contPrefix)
		}

		if segLen > avail && curLen == 0 {
			seg = truncateVisual(seg, avail)
			segLen = visualLen(seg)
		}

		if curLen == 0 {
			cur.WriteString(prefix)
			curLen = width - avail
		} else {
			cur.WriteString(sep)
			curLen += visualLen(sep)
		}
		cur.WriteString(seg)
		curLen += segLen
	}
	flush()
	return lines
}

// truncateVisual shortens s to max visible runes, ending with an ellipsis.
// Color escapes would be cut mid-sequence, so truncation strips them first.
func truncateVisual(s string, max int) string {
	plain := stripANSI(s)
	runes := []rune(plain)
	if len(runes) <= max {
		return plain
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > 1<<62 {
			return 0, false
		}
		return int64(u), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET":
		return ansiGreen + method + ansiReset
	case "POST":
		return ansiBlue + method + ansiReset
	case "DELETE":
		return ansiRed + method + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + method + ansiReset
	default:
		return method
	}
}

func colorizeStatusCode(status int, color bool) string {
	s := strconv.Itoa(status)
	if !color {
		return s
	}
	switch {
	case status >= 500:
		return ansiRed + s + ansiReset
	case status >= 400:
		return ansiYellow + s + ansiReset
	case status >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	case "3xx":
		return ansiCyan + class + ansiReset
	default:
		return ansiGreen + class + ansiReset
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 250:
		return ansiYellow + s + ansiReset
	default:
		return applyDim(s, true)
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "server_error":
		return ansiRed + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	default:
		return ansiGreen + result + ansiReset
	}
}
