package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/pipeline"
)

const archivePrefix = "archive/decisions/"

// ArchiveJob is the background job that moves decisions to cold storage.
type ArchiveJob interface {
	Trigger() bool
	LastRun() (pipeline.ArchiveRun, bool)
}

// ArchiveHandler lists and serves archived decision batches and triggers
// archive runs.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	job    ArchiveJob
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. job may be nil when this
// process does not run the archive cron.
func NewArchiveHandler(blobs domain.BlobReader, job ArchiveJob, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, job: job, logger: logger}
}

type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchives lists archived batches, optionally narrowed to one cutoff
// date.
// GET /api/archives?date=2026-01-31
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if date := r.URL.Query().Get("date"); date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		prefix += date + "/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	out := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveObject{Path: info.Path, Size: info.Size, LastModified: info.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// GetArchive streams one archived batch as JSON lines.
// GET /api/archives/object?path=archive/decisions/2026-01-31/part-0001.jsonl
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	p := path.Clean(r.URL.Query().Get("path"))
	if !strings.HasPrefix(p, archivePrefix) || !strings.HasSuffix(p, ".jsonl") {
		writeError(w, http.StatusBadRequest, "path must name an archived .jsonl batch")
		return
	}
	body, err := h.blobs.Get(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, "get archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

// TriggerArchive queues an archive run on the running cron loop.
// POST /api/archives/run
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.job == nil {
		writeError(w, http.StatusServiceUnavailable, "archive job not running in this process")
		return
	}
	if !h.job.Trigger() {
		writeError(w, http.StatusConflict, "an archive run is already queued")
		return
	}
	h.logger.InfoContext(r.Context(), "archive run requested", slog.String("actor", actorOf(r)))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// LastArchiveRun reports the most recent run.
// GET /api/archives/last
func (h *ArchiveHandler) LastArchiveRun(w http.ResponseWriter, r *http.Request) {
	if h.job == nil {
		writeError(w, http.StatusServiceUnavailable, "archive job not running in this process")
		return
	}
	run, ok := h.job.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "no archive run yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
