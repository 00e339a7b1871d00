package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/export"
	"github.com/pipevision/pipevision/pkg/gaps"
	"github.com/pipevision/pipevision/pkg/geometry"
	pvio "github.com/pipevision/pipevision/pkg/io"
	"github.com/pipevision/pipevision/pkg/metadata"
	"github.com/pipevision/pipevision/pkg/pipeline"
)

// RunResponse summarizes a run for the validation wizard.
type RunResponse struct {
	ProjectID       string           `json:"project_id"`
	RunID           string           `json:"run_id"`
	Status          string           `json:"status"`
	Ready           bool             `json:"ready"`
	MetadataVersion int64            `json:"metadata_version"`
	Entities        int              `json:"entities"`
	Bounds          *geometry.Bounds `json:"bounds,omitempty"`
	Gaps            []gaps.Gap       `json:"gaps"`
	Warnings        []errors.Warning `json:"warnings,omitempty"`
}

// MetadataRequest is the body of POST /projects/{id}/metadata.
type MetadataRequest struct {
	Version int64          `json:"version"`
	Patch   metadata.Patch `json:"patch"`
}

// MetadataResponse is the stored record plus the run it produced.
type MetadataResponse struct {
	Record *metadata.Record `json:"record"`
	Run    RunResponse      `json:"run"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Gaps    []gaps.Gap  `json:"gaps,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	run, err := s.process(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(run))
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runner.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePostMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req MetadataRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode metadata request"))
		return
	}
	if req.Patch.Empty() {
		s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "patch changes nothing"))
		return
	}

	rec, err := s.runner.Store.Update(r.Context(), id, req.Version, req.Patch.Apply)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("metadata updated", "project", id, "version", rec.Version)

	run, err := s.process(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MetadataResponse{Record: rec, Run: newRunResponse(run)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	opts, err := s.exportOptions(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	run, err := s.process(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !run.Ready() {
		writeJSON(w, http.StatusPreconditionFailed, ErrorResponse{
			Code:    errors.ErrCodeExportPrecondition,
			Message: fmt.Sprintf("project %s has %d open gaps", run.ProjectID, len(run.Gaps)),
			Gaps:    run.Gaps,
		})
		return
	}

	art, err := s.runner.Export(r.Context(), run, f, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	etag := `"` + art.Checksum + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename(run.ProjectID)))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("X-Pipevision-Entities", strconv.Itoa(art.Entities))
	w.Header().Set("X-Pipevision-Warnings", strconv.Itoa(len(art.Warnings)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

// process loads the project's drawing and runs it against the current
// metadata. A run that loses a race with a concurrent metadata write is
// refreshed once.
func (s *Server) process(r *http.Request) (*pipeline.Run, error) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	d, err := s.drawings.Drawing(ctx, id)
	if err != nil {
		return nil, err
	}
	opts := pipeline.Options{
		ProjectID: id,
		Units:     d.Units,
		TargetCRS: s.opts.TargetCRS,
		Table:     s.opts.Table,
		Logger:    s.logger,
	}
	run, err := s.runner.Ingest(ctx, d.Entities, opts)
	if err != nil {
		return nil, err
	}
	err = s.runner.Resolve(ctx, run)
	if errors.Is(err, errors.ErrCodeStaleMetadata) {
		err = s.runner.Refresh(ctx, run)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// exportOptions merges query parameters over the configured defaults.
func (s *Server) exportOptions(r *http.Request) (export.Options, error) {
	opts := s.opts.Export
	opts.AssetTypes = append([]string(nil), opts.AssetTypes...)
	q := r.URL.Query()

	if vals, ok := q["asset_type"]; ok {
		opts.AssetTypes = nil
		for _, v := range vals {
			for _, t := range strings.Split(v, ",") {
				if t = strings.TrimSpace(t); t != "" {
					opts.AssetTypes = append(opts.AssetTypes, t)
				}
			}
		}
	}
	if v := q.Get("precision"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.Wrap(errors.ErrCodeInvalidInput, err, "precision")
		}
		opts.Precision = n
	}
	if v := q.Get("include_properties"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.Wrap(errors.ErrCodeInvalidInput, err, "include_properties")
		}
		opts.IncludeProperties = b
	}
	if v := q.Get("extras_namespace"); v != "" {
		opts.ExtrasNamespace = v
	}
	if v := q.Get("default_diameter"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, errors.Wrap(errors.ErrCodeInvalidInput, err, "default_diameter")
		}
		opts.DefaultDiameter = f
	}
	if v := q.Get("tubes"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.Wrap(errors.ErrCodeInvalidInput, err, "tubes")
		}
		opts.Tubes = b
	}
	return opts, opts.Validate()
}

func newRunResponse(run *pipeline.Run) RunResponse {
	resp := RunResponse{
		ProjectID:       run.ProjectID,
		RunID:           run.ID,
		Status:          run.Status(),
		Ready:           run.Ready(),
		MetadataVersion: run.MetadataVersion,
		Entities:        run.Ingested.Len(),
		Gaps:            run.Gaps,
		Warnings:        run.Warnings,
	}
	if b, ok := run.Ingested.Bounds(); ok {
		resp.Bounds = &b
	}
	return resp
}

// statusFor maps an error code to an HTTP status.
func statusFor(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidFormat, errors.ErrCodeInvalidCRS, errors.ErrCodeInvalidPath:
		return http.StatusBadRequest
	case errors.ErrCodeStaleMetadata:
		return http.StatusConflict
	case errors.ErrCodeExportPrecondition:
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := statusFor(code)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, ErrorResponse{Code: code, Message: errors.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = pvio.WriteJSON(w, v)
}
