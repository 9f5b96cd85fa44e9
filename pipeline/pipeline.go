package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"texengine/config"
	"texengine/executor"
	"texengine/internal"
	"texengine/model"

	logrus "github.com/sirupsen/logrus"
)

// WorkAreaPrefix names every working area created under the work directory.
const WorkAreaPrefix = "texengine-work-"

var pagePattern = regexp.MustCompile(`^` + executor.PagePrefix + `(?:-(\d+))?\.(svg|png)$`)

// Pipeline turns one document into page images. It is not safe for
// concurrent use; the worker pool is its only caller.
type Pipeline struct {
	cfg    *config.Config
	runner executor.Runner
	tools  executor.Toolchain
	store  *OutputStore
	logger *logrus.Logger

	removeAll func(string) error
}

func New(cfg *config.Config, runner executor.Runner, logger *logrus.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := NewOutputStore(cfg.OutputDir, cfg.KeepRuns)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		runner:    runner,
		tools:     executor.NewToolchain(cfg),
		store:     store,
		logger:    logger,
		removeAll: os.RemoveAll,
	}, nil
}

// Compile runs one request end to end. The working area is removed on every
// path out; failing to remove it is reported as an advisory.
func (p *Pipeline) Compile(ctx context.Context, req model.CompileRequest) (res model.CompileResult) {
	start := time.Now()
	log := p.logger.WithField("request", req.ID)
	defer func() {
		res.RequestID = req.ID
		res.Duration = time.Since(start)
	}()

	if len(req.Document) > p.cfg.MaxInputBytes {
		return failed(res, model.KindInputTooLarge,
			fmt.Sprintf("document is %d bytes, the limit is %d bytes", len(req.Document), p.cfg.MaxInputBytes))
	}

	dir, err := os.MkdirTemp(p.cfg.WorkDir, WorkAreaPrefix+"*")
	if err != nil {
		log.WithError(err).Error("Failed to create working area")
		return failed(res, model.KindInternalIOFailure, p.diagnostic("could not create working area: "+err.Error(), p.cfg.WorkDir))
	}
	defer func() {
		if err := p.removeAll(dir); err != nil {
			log.WithError(err).Error("Failed to remove working area")
			res.Advisories = append(res.Advisories, model.Advisory{
				Kind:    model.KindInternalIOFailure,
				Message: p.diagnostic("working area was not removed: "+err.Error(), dir),
			})
		}
	}()

	return p.compileIn(ctx, dir, req, log)
}

func (p *Pipeline) compileIn(ctx context.Context, dir string, req model.CompileRequest, log *logrus.Entry) model.CompileResult {
	var res model.CompileResult

	if err := os.WriteFile(filepath.Join(dir, executor.SourceFile), []byte(req.Document), 0o600); err != nil {
		return failed(res, model.KindInternalIOFailure, p.diagnostic("could not write source file: "+err.Error(), dir))
	}

	var last PassOutcome
	for pass := 1; pass <= p.cfg.MaxPasses; pass++ {
		out, proc, err := p.primaryPass(ctx, dir, pass, log)
		res.Passes = pass
		if err != nil {
			return p.stageFailure(res, dir, p.cfg.PrimaryCompiler, proc, err)
		}
		last = out
		if out.HardFailure(exists(dir, executor.PDFFile)) {
			return failed(res, model.KindHardCompileFailure, p.diagnostic(errorExcerpt(out.Log), dir))
		}
		if out.WantsBibliography && p.tools.BibliographyRequested(dir) {
			break
		}
		if !out.NeedsRerun {
			break
		}
	}

	if p.tools.BibliographyRequested(dir) {
		if adv := p.bibliography(ctx, dir, log); adv != nil {
			res.Advisories = append(res.Advisories, *adv)
		}
		res.Passes++
		out, proc, err := p.primaryPass(ctx, dir, res.Passes, log)
		if err != nil {
			return p.stageFailure(res, dir, p.cfg.PrimaryCompiler, proc, err)
		}
		last = out
		if out.HardFailure(exists(dir, executor.PDFFile)) {
			return failed(res, model.KindHardCompileFailure, p.diagnostic(errorExcerpt(out.Log), dir))
		}
	}

	if last.ExitCode != 0 {
		res.Advisories = append(res.Advisories, model.Advisory{
			Kind:    model.KindCompilerWarnings,
			Message: p.diagnostic(errorExcerpt(last.Log), dir),
		})
	}

	if !exists(dir, executor.PDFFile) {
		msg := "the compiler produced no output"
		if strings.Contains(last.Log, noPagesMarker) {
			msg = `the document has no pages; put content between \begin{document} and \end{document}`
		}
		return failed(res, model.KindNoOutputProduced, p.diagnostic(msg, dir))
	}

	for _, cmd := range p.rasterCommands(dir, last.Pages) {
		proc, err := p.runner.Run(ctx, cmd)
		if err != nil {
			return p.stageFailure(res, dir, p.cfg.RasterTool, proc, err)
		}
		if proc.ExitCode != 0 {
			return failed(res, model.KindNoOutputProduced, p.diagnostic("page conversion failed:\n"+proc.Output(), dir))
		}
	}

	pages, err := collectPages(dir, p.cfg.RasterFormat)
	if err != nil {
		return failed(res, model.KindInternalIOFailure, p.diagnostic("could not list pages: "+err.Error(), dir))
	}
	if len(pages) == 0 {
		return failed(res, model.KindNoOutputProduced, "page conversion produced no pages")
	}

	saved, err := p.store.Save(req.ID, pages)
	if err != nil {
		log.WithError(err).Error("Failed to store pages")
		return failed(res, model.KindInternalIOFailure, p.diagnostic("could not store pages: "+err.Error(), dir))
	}

	res.Success = true
	res.Pages = saved
	return res
}

// rasterCommands converts vector output page by page, since a whole-document
// SVG conversion writes every page into one file. Raster formats and documents
// with an unknown page count take a single invocation.
func (p *Pipeline) rasterCommands(dir string, pages int) []executor.Command {
	if p.cfg.RasterFormat != "svg" || pages < 2 {
		return []executor.Command{p.tools.Rasterize(dir)}
	}
	cmds := make([]executor.Command, 0, pages)
	for i := 1; i <= pages; i++ {
		cmds = append(cmds, p.tools.RasterizePage(dir, i))
	}
	return cmds
}

// primaryPass runs the compiler once and scans the log it leaves behind.
func (p *Pipeline) primaryPass(ctx context.Context, dir string, pass int, log *logrus.Entry) (PassOutcome, *executor.ProcessResult, error) {
	logPath := filepath.Join(dir, executor.LogFile)
	os.Remove(logPath)

	proc, err := p.runner.Run(ctx, p.tools.Primary(dir))
	if err != nil {
		return PassOutcome{Pass: pass}, proc, err
	}

	text := proc.Output()
	if data, err := os.ReadFile(logPath); err == nil {
		text = string(data)
	}
	out := scanPass(pass, proc.ExitCode, text)

	log.WithFields(logrus.Fields{
		"pass":      pass,
		"exit_code": proc.ExitCode,
		"duration":  proc.Duration,
		"rerun":     out.NeedsRerun,
		"bib":       out.WantsBibliography,
	}).Debug("Primary pass finished")
	return out, proc, nil
}

// bibliography runs the bibliography tool once. Any failure is returned as a
// degradation advisory, never as a terminal result.
func (p *Pipeline) bibliography(ctx context.Context, dir string, log *logrus.Entry) *model.Advisory {
	proc, err := p.runner.Run(ctx, p.tools.Bibliography(dir))

	var problem string
	switch {
	case err != nil:
		problem = err.Error()
	case proc.ExitCode != 0:
		problem = fmt.Sprintf("%s exited with status %d", p.cfg.BibTool, proc.ExitCode)
	default:
		return nil
	}

	log.WithFields(logrus.Fields{"tool": p.cfg.BibTool, "error": problem}).Warn("Bibliography step degraded")
	msg := "citations may be unresolved: " + problem
	if out := proc.Output(); out != "" {
		msg += "\n\n" + out
	}
	return &model.Advisory{Kind: model.KindBibliographyDegraded, Message: p.diagnostic(msg, dir)}
}

// stageFailure maps a runner error to a terminal result.
func (p *Pipeline) stageFailure(res model.CompileResult, dir, tool string, proc *executor.ProcessResult, err error) model.CompileResult {
	kind := model.KindInternalIOFailure
	switch {
	case errors.Is(err, executor.ErrSpawnFailed):
		kind = model.KindSpawnFailed
	case errors.Is(err, executor.ErrTimedOut), proc != nil && proc.TimedOut:
		kind = model.KindTimedOut
	}

	msg := tool + ": " + err.Error()
	if out := proc.Output(); out != "" {
		msg += "\n\n" + out
	}
	return failed(res, kind, p.diagnostic(msg, dir))
}

// diagnostic is the only way text leaves a run: paths removed, then trimmed.
func (p *Pipeline) diagnostic(text, dir string) string {
	return internal.Diagnostic(internal.SanitizePaths(text, dir), p.cfg.DiagnosticTailBytes)
}

// collectPages returns page images of the given format ordered by page
// number. A single unnumbered page counts as page 1.
func collectPages(dir, format string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type page struct {
		index int
		path  string
	}
	var pages []page
	for _, e := range entries {
		m := pagePattern.FindStringSubmatch(e.Name())
		if m == nil || m[2] != format || e.IsDir() {
			continue
		}
		index := 1
		if m[1] != "" {
			index, _ = strconv.Atoi(m[1])
		}
		pages = append(pages, page{index: index, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].index < pages[j].index })

	paths := make([]string, len(pages))
	for i, pg := range pages {
		paths[i] = pg.path
	}
	return paths, nil
}

func exists(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, name))
	return err == nil && info.Mode().IsRegular()
}

func failed(res model.CompileResult, kind model.Kind, diagnostic string) model.CompileResult {
	res.Success = false
	res.Kind = kind
	res.Diagnostic = diagnostic
	return res
}
