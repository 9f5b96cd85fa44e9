package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"texengine/executor"
)

// Markers the primary compiler prints when cross-references, labels or the
// table of contents are stale after a pass.
var rerunMarkers = []string{
	"Rerun to get",
	"Label(s) may have changed",
	"Rerun LaTeX",
	"There were undefined references",
	"No file " + executor.JobName + ".toc",
	"(rerunfilecheck)",
	"Please rerun LaTeX",
}

var (
	bibRequestPattern = regexp.MustCompile(`(?i)please \(re\)run (?:biber|bibtex)|run (?:biber|bibtex) on the file|No file ` + regexp.QuoteMeta(executor.JobName+".bbl"))
	fatalPattern      = regexp.MustCompile(`Fatal error occurred|Emergency stop|no output PDF file produced`)
	fileLineError     = regexp.MustCompile(`^[^\s:]+:\d+: `)
	pageCountPattern  = regexp.MustCompile(`Output written on \S+ \((\d+) pages?`)
)

const noPagesMarker = "No pages of output"

// PassOutcome is what one primary compiler invocation left behind.
type PassOutcome struct {
	Pass              int
	ExitCode          int
	Log               string
	NeedsRerun        bool
	WantsBibliography bool
	Fatal             bool
	// Pages is the page count the compiler reported, 0 when it reported none.
	Pages int
}

// HardFailure reports whether the pass ended in an error the document cannot
// recover from: a non-zero exit with no usable output or a fatal marker.
func (o PassOutcome) HardFailure(pdfExists bool) bool {
	return o.ExitCode != 0 && (!pdfExists || o.Fatal)
}

func scanPass(pass, exitCode int, log string) PassOutcome {
	out := PassOutcome{
		Pass:              pass,
		ExitCode:          exitCode,
		Log:               log,
		WantsBibliography: bibRequestPattern.MatchString(log),
		Fatal:             fatalPattern.MatchString(log),
	}
	if m := pageCountPattern.FindStringSubmatch(log); m != nil {
		out.Pages, _ = strconv.Atoi(m[1])
	}
	for _, m := range rerunMarkers {
		if strings.Contains(log, m) {
			out.NeedsRerun = true
			break
		}
	}
	return out
}

// errorExcerpt pulls the error lines (and two lines of context after each)
// out of a compiler log. The whole log is returned when none are found.
func errorExcerpt(log string) string {
	lines := strings.Split(log, "\n")
	var picked []string
	trailing := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "!") || fileLineError.MatchString(line) {
			picked = append(picked, line)
			trailing = 2
			continue
		}
		if trailing > 0 {
			picked = append(picked, line)
			trailing--
		}
	}
	if len(picked) == 0 {
		return log
	}
	return strings.Join(picked, "\n")
}
