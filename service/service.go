package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"texengine/executor"
	"texengine/internal"
	"texengine/logger"
	"texengine/model"

	"go.uber.org/zap/zapcore"
)

var ErrInvalidRequest = errors.New("invalid request parameters")

const layer = "SERVICE"

var statusMessages = map[model.Kind]string{
	model.KindInputTooLarge:      "Document exceeds maximum size",
	model.KindSpawnFailed:        "Toolchain unavailable",
	model.KindTimedOut:           "Compilation timed out",
	model.KindHardCompileFailure: "Compilation failed",
	model.KindNoOutputProduced:   "No pages produced",
	model.KindInternalIOFailure:  "Internal error",
	model.KindSuperseded:         "Superseded by a newer document",
	model.KindQueueClosed:        "Service shutting down",
}

// Queue is the part of the worker pool the service needs.
type Queue interface {
	SubmitAndWait(ctx context.Context, req model.CompileRequest) (model.CompileResult, error)
}

type RenderService struct {
	queue    Queue
	streamer *logger.BetterStackLogStreamer
}

func NewRenderService(queue Queue, streamer *logger.BetterStackLogStreamer) *RenderService {
	return &RenderService{
		queue:    queue,
		streamer: streamer,
	}
}

// Render compiles document and returns the pages inline. A busy queue is not
// an error: the response says so and the caller may retry.
func (s *RenderService) Render(ctx context.Context, document, sourceDir string) (*model.CompileResponse, error) {
	start := time.Now()

	if strings.TrimSpace(document) == "" {
		return &model.CompileResponse{
			Success:       false,
			Error:         ErrInvalidRequest.Error(),
			StatusMessage: "Document is empty",
		}, nil
	}

	req := model.NewCompileRequest(document, sourceDir)
	s.streamer.Log(zapcore.InfoLevel, req.ID, "Render requested", map[string]any{
		"bytes": len(document),
	}, layer, nil)

	res, err := s.queue.SubmitAndWait(ctx, req)
	if errors.Is(err, executor.ErrBusy) {
		s.streamer.Log(zapcore.WarnLevel, req.ID, "Render rejected, compiler busy", nil, layer, err)
		return &model.CompileResponse{
			RequestID:     req.ID,
			Success:       false,
			Error:         err.Error(),
			StatusMessage: "Compiler busy, try again",
		}, nil
	}
	if err != nil {
		s.streamer.Log(zapcore.ErrorLevel, req.ID, "Render not completed", nil, layer, err)
		return nil, fmt.Errorf("render %s: %w", req.ID, err)
	}

	resp := &model.CompileResponse{
		RequestID:     req.ID,
		Success:       res.Success,
		Passes:        res.Passes,
		ExecutionTime: time.Since(start).String(),
	}
	for _, adv := range res.Advisories {
		resp.Advisories = append(resp.Advisories, model.AdvisoryData{
			Kind:    adv.Kind,
			Message: internal.EscapeMarkup(adv.Message),
		})
	}

	if !res.Success {
		resp.Kind = res.Kind
		resp.Error = res.EscapedDiagnostic()
		resp.StatusMessage = statusMessages[res.Kind]
		if resp.StatusMessage == "" {
			resp.StatusMessage = "Compilation failed"
		}
		s.streamer.Log(zapcore.WarnLevel, req.ID, "Render failed", map[string]any{
			"kind":   res.Kind,
			"passes": res.Passes,
		}, layer, nil)
		return resp, nil
	}

	for _, page := range res.Pages {
		data, err := os.ReadFile(page.Path)
		if err != nil {
			s.streamer.Log(zapcore.ErrorLevel, req.ID, "Failed to read rendered page", map[string]any{"page": page.Index}, layer, err)
			resp.Success = false
			resp.Pages = nil
			resp.Kind = model.KindInternalIOFailure
			resp.Error = fmt.Sprintf("could not read page %d", page.Index)
			resp.StatusMessage = statusMessages[model.KindInternalIOFailure]
			return resp, nil
		}
		resp.Pages = append(resp.Pages, model.PageData{
			Index: page.Index,
			Name:  filepath.Base(page.Path),
			Data:  data,
		})
	}

	resp.StatusMessage = "Success"
	s.streamer.Log(zapcore.InfoLevel, req.ID, "Render completed", map[string]any{
		"pages":    len(resp.Pages),
		"passes":   res.Passes,
		"duration": resp.ExecutionTime,
	}, layer, nil)
	return resp, nil
}
