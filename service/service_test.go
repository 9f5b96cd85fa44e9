package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"texengine/executor"
	"texengine/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	result model.CompileResult
	err    error
	got    model.CompileRequest
}

func (q *fakeQueue) SubmitAndWait(ctx context.Context, req model.CompileRequest) (model.CompileResult, error) {
	q.got = req
	q.result.RequestID = req.ID
	return q.result, q.err
}

func TestRenderReturnsPages(t *testing.T) {
	dir := t.TempDir()
	var pages []model.Page
	for i, body := range []string{"<svg>1</svg>", "<svg>2</svg>"} {
		path := filepath.Join(dir, "page-"+strconv.Itoa(i+1)+".svg")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		pages = append(pages, model.Page{Index: i + 1, Path: path})
	}
	q := &fakeQueue{result: model.CompileResult{
		Success:    true,
		Pages:      pages,
		Passes:     2,
		Advisories: []model.Advisory{{Kind: model.KindBibliographyDegraded, Message: "missing <refs.bib>"}},
	}}

	resp, err := NewRenderService(q, nil).Render(context.Background(), `\documentclass{article}`, "/home/me/paper")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "Success", resp.StatusMessage)
	assert.Equal(t, q.got.ID, resp.RequestID)
	assert.Equal(t, "/home/me/paper", q.got.SourceDir)
	assert.Equal(t, 2, resp.Passes)
	require.Len(t, resp.Pages, 2)
	assert.Equal(t, "page-2.svg", resp.Pages[1].Name)
	assert.Equal(t, []byte("<svg>2</svg>"), resp.Pages[1].Data)
	require.Len(t, resp.Advisories, 1)
	assert.Equal(t, "missing &lt;refs.bib&gt;", resp.Advisories[0].Message)
}

func TestRenderFailureIsEscaped(t *testing.T) {
	q := &fakeQueue{result: model.CompileResult{
		Kind:       model.KindHardCompileFailure,
		Diagnostic: "! Undefined control sequence.\nl.1 <b>",
	}}

	resp, err := NewRenderService(q, nil).Render(context.Background(), "<b>", "")
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, model.KindHardCompileFailure, resp.Kind)
	assert.Equal(t, "Compilation failed", resp.StatusMessage)
	assert.Contains(t, resp.Error, "&lt;b&gt;")
	assert.Empty(t, resp.Pages)
}

func TestRenderRejectsEmptyDocument(t *testing.T) {
	q := &fakeQueue{}
	resp, err := NewRenderService(q, nil).Render(context.Background(), "  \n", "")
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, ErrInvalidRequest.Error(), resp.Error)
	assert.Empty(t, q.got.ID, "queue must not be called")
}

func TestRenderBusy(t *testing.T) {
	q := &fakeQueue{err: executor.ErrBusy}
	resp, err := NewRenderService(q, nil).Render(context.Background(), "doc", "")
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, "Compiler busy, try again", resp.StatusMessage)
}

func TestRenderQueueClosed(t *testing.T) {
	q := &fakeQueue{err: executor.ErrQueueClosed}
	_, err := NewRenderService(q, nil).Render(context.Background(), "doc", "")
	assert.True(t, errors.Is(err, executor.ErrQueueClosed))
}

func TestRenderMissingPageFile(t *testing.T) {
	q := &fakeQueue{result: model.CompileResult{
		Success: true,
		Pages:   []model.Page{{Index: 1, Path: filepath.Join(t.TempDir(), "gone.svg")}},
	}}

	resp, err := NewRenderService(q, nil).Render(context.Background(), "doc", "")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, model.KindInternalIOFailure, resp.Kind)
	assert.NotContains(t, resp.Error, "gone.svg")
}
