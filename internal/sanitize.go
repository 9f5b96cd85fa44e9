package internal

import (
	"html"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Placeholder replaces every filesystem path that could reveal the host layout.
const Placeholder = "[TEMP_DIR]"

var tempPattern = buildTempPattern()

// buildTempPattern matches absolute paths under the host temp directory conventions.
func buildTempPattern() *regexp.Regexp {
	roots := map[string]bool{"/tmp": true, "/var/tmp": true, "/private/tmp": true, "/private/var/folders": true, "/var/folders": true}
	if t := filepath.Clean(os.TempDir()); t != "/" && t != "." {
		roots[t] = true
	}
	alts := make([]string, 0, len(roots))
	for r := range roots {
		alts = append(alts, regexp.QuoteMeta(filepath.ToSlash(r)))
	}
	// longest first so /private/tmp wins over /tmp
	sortByLenDesc(alts)
	return regexp.MustCompile(`(?:` + strings.Join(alts, "|") + `)(?:[/\\][^\s'"(){}<>:;,]*)?`)
}

// SanitizePaths replaces root, its resolved form, its base name, and any
// temp-directory path in text with Placeholder.
func SanitizePaths(text, root string) string {
	if text == "" {
		return text
	}

	var needles []string
	if root != "" {
		clean := filepath.Clean(root)
		needles = append(needles, clean, filepath.ToSlash(clean))
		if resolved, err := filepath.EvalSymlinks(clean); err == nil {
			needles = append(needles, resolved, filepath.ToSlash(resolved))
		}
	}
	sortByLenDesc(needles)
	for _, n := range needles {
		if n == "" || n == "/" || n == "." {
			continue
		}
		text = strings.ReplaceAll(text, n, Placeholder)
	}

	text = tempPattern.ReplaceAllStringFunc(text, func(m string) string {
		if strings.HasPrefix(m, Placeholder) {
			return m
		}
		return Placeholder
	})

	if root != "" {
		if base := filepath.Base(filepath.Clean(root)); len(base) >= 6 && base != "tmp" {
			text = strings.ReplaceAll(text, base, Placeholder)
		}
	}
	return text
}

// Diagnostic repairs invalid UTF-8, drops control characters other than
// newline and tab, and keeps at most the last limit bytes.
func Diagnostic(text string, limit int) string {
	text = strings.ToValidUTF8(text, "�")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)

	if limit > 0 && len(text) > limit {
		cut := len(text) - limit
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
		if nl := strings.IndexByte(text[cut:], '\n'); nl >= 0 && nl < len(text)-cut-1 {
			cut += nl + 1
		}
		text = "[... earlier output truncated ...]\n" + text[cut:]
	}
	return strings.TrimSpace(text)
}

// EscapeMarkup makes text inert for HTML renderers.
func EscapeMarkup(text string) string {
	return html.EscapeString(text)
}

func sortByLenDesc(s []string) {
	sort.Slice(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
}
