package executor

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"

	"texengine/config"
)

// Fixed names inside a working area.
const (
	JobName    = "doc"
	SourceFile = JobName + ".tex"
	PDFFile    = JobName + ".pdf"
	LogFile    = JobName + ".log"
	PagePrefix = "page"
)

// texEnv keeps every run deterministic and confined: no \write18, kpathsea
// paranoid mode for reads and writes, no log line wrapping (so paths are never
// split across lines), and fixed timestamps.
var texEnv = []string{
	"shell_escape=f",
	"openin_any=p",
	"openout_any=p",
	"max_print_line=10000",
	"error_line=254",
	"half_error_line=238",
	"SOURCE_DATE_EPOCH=0",
	"FORCE_SOURCE_DATE=1",
}

// Toolchain builds the three tool invocations from the startup configuration.
type Toolchain struct {
	cfg *config.Config
}

func NewToolchain(cfg *config.Config) Toolchain {
	return Toolchain{cfg: cfg}
}

// Primary runs the compiler on doc.tex inside dir.
func (t Toolchain) Primary(dir string) Command {
	return Command{
		Program: t.cfg.PrimaryCompiler,
		Args: []string{
			"-no-shell-escape",
			"-interaction=nonstopmode",
			"-file-line-error",
			"-jobname=" + JobName,
			SourceFile,
		},
		Dir:     dir,
		Env:     texEnv,
		Timeout: t.cfg.CompileTimeout,
	}
}

// Bibliography runs the configured bibliography tool on the job's control file.
func (t Toolchain) Bibliography(dir string) Command {
	return Command{
		Program: t.cfg.BibTool,
		Args:    []string{JobName},
		Dir:     dir,
		Env:     texEnv,
		Timeout: t.cfg.BibTimeout,
	}
}

// Rasterize converts doc.pdf into page images named page[-N].<format>.
func (t Toolchain) Rasterize(dir string) Command {
	args := []string{"-" + t.cfg.RasterFormat}
	if t.cfg.RasterFormat == "png" {
		args = append(args, "-r", strconv.Itoa(t.cfg.RasterDPI), PDFFile, PagePrefix)
	} else {
		// vector output takes the full file name
		args = append(args, PDFFile, PagePrefix+"."+t.cfg.RasterFormat)
	}
	return Command{
		Program: t.cfg.RasterTool,
		Args:    args,
		Dir:     dir,
		Timeout: t.cfg.RasterTimeout,
	}
}

// RasterizePage converts one page of doc.pdf into page-N.svg. Vector output
// holds one page per file only when the page range is explicit.
func (t Toolchain) RasterizePage(dir string, page int) Command {
	n := strconv.Itoa(page)
	return Command{
		Program: t.cfg.RasterTool,
		Args:    []string{"-svg", "-f", n, "-l", n, PDFFile, PagePrefix + "-" + n + ".svg"},
		Dir:     dir,
		Timeout: t.cfg.RasterTimeout,
	}
}

// BibliographyRequested reports whether the previous pass left the artifact
// that the configured bibliography tool consumes.
func (t Toolchain) BibliographyRequested(dir string) bool {
	if t.cfg.BibTool == "" {
		return false
	}
	switch filepath.Base(t.cfg.BibTool) {
	case "bibtex", "bibtex8", "bibtexu":
		aux, err := os.ReadFile(filepath.Join(dir, JobName+".aux"))
		return err == nil && bytes.Contains(aux, []byte(`\bibdata{`))
	default:
		_, err := os.Stat(filepath.Join(dir, JobName+".bcf"))
		return err == nil
	}
}

// VersionProbes lists the commands used to check the toolchain is installed.
func (t Toolchain) VersionProbes() []Command {
	probes := []Command{
		{Program: t.cfg.PrimaryCompiler, Args: []string{"--version"}, Timeout: t.cfg.CompileTimeout},
		{Program: t.cfg.RasterTool, Args: []string{"-v"}, Timeout: t.cfg.RasterTimeout},
	}
	if t.cfg.BibTool != "" {
		probes = append(probes, Command{Program: t.cfg.BibTool, Args: []string{"--version"}, Timeout: t.cfg.BibTimeout})
	}
	return probes
}

// Optional reports whether the pipeline can run without program. Only the
// bibliography tool is optional; its absence degrades citations.
func (t Toolchain) Optional(program string) bool {
	return program != "" && program == t.cfg.BibTool
}
