package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"texengine/executor"
	"texengine/model"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch FILE",
	Short: "Recompile a document every time it is saved",
	Long: `Watch recompiles FILE on every save. Saves that arrive while a
compilation is running are folded into one follow-up compilation of the
latest content once the running one finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 200*time.Millisecond, "Quiet period after a save before compiling")
}

func runWatch(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	cfg := loadConfig()

	eng, err := newEngine(cfg, newLogger())
	if err != nil {
		return err
	}
	defer eng.close()
	defer eng.pool.Shutdown(context.Background())

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer w.Close()
	// editors often replace the file, so watch its directory
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	out := cmd.OutOrStdout()
	dimColor.Fprintf(out, "Watching %s\n", target)

	wl := &watchLoop{
		target:   target,
		submit:   eng.pool.Submit,
		read:     readDocument,
		out:      out,
		debounce: watchDebounce,
	}
	return wl.run(cmd.Context(), w.Events, w.Errors)
}

// watchLoop owns the dirty flag: a save during a running compilation is
// remembered and compiled once the result of the running one arrives.
type watchLoop struct {
	target   string
	submit   func(model.CompileRequest) (<-chan model.CompileResult, error)
	read     func(string) (string, error)
	out      io.Writer
	debounce time.Duration

	inflight <-chan model.CompileResult
	dirty    bool
}

func (l *watchLoop) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != l.target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(l.debounce)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			errColor.Fprintf(l.out, "watch error: %v\n", err)
		case <-timer.C:
			if l.trigger() {
				timer.Reset(l.debounce)
			}
		case res := <-l.inflight:
			l.inflight = nil
			printResult(l.out, res)
			if l.dirty {
				l.dirty = false
				if l.trigger() {
					timer.Reset(l.debounce)
				}
			}
		}
	}
}

// trigger submits the current content, or marks it dirty when a compilation
// is in flight. It reports true when the queue was busy with nothing in
// flight here to wait for, so the caller must retry on its own.
func (l *watchLoop) trigger() (retry bool) {
	if l.inflight != nil {
		l.dirty = true
		return false
	}
	doc, err := l.read(l.target)
	if err != nil {
		errColor.Fprintf(l.out, "%v\n", err)
		return false
	}
	ch, err := l.submit(model.NewCompileRequest(doc, filepath.Dir(l.target)))
	switch {
	case errors.Is(err, executor.ErrBusy):
		l.dirty = true
		return true
	case err != nil:
		errColor.Fprintf(l.out, "%v\n", err)
	default:
		l.dirty = false
		l.inflight = ch
		dimColor.Fprintf(l.out, "Compiling %s\n", filepath.Base(l.target))
	}
	return false
}
