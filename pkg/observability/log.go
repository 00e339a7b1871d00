package observability

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// LogHooks writes every event to a logger at debug level, and failures at
// warn level.
type LogHooks struct {
	Logger *log.Logger
}

// NewLogHooks returns hooks that log through logger.
func NewLogHooks(logger *log.Logger) *LogHooks {
	if logger == nil {
		logger = log.Default()
	}
	return &LogHooks{Logger: logger}
}

// Register installs h for pipeline, cache and HTTP events.
func (h *LogHooks) Register() {
	SetPipelineHooks(h)
	SetCacheHooks(h)
	SetHTTPHooks(h)
}

func (h *LogHooks) OnResolveStart(_ context.Context, projectID string, entities int) {
	h.Logger.Debug("resolve started", "project", projectID, "entities", entities)
}

func (h *LogHooks) OnResolveComplete(_ context.Context, projectID, state string, gaps int, d time.Duration, err error) {
	if err != nil {
		h.Logger.Warn("resolve failed", "project", projectID, "duration", d, "err", err)
		return
	}
	h.Logger.Debug("resolve finished", "project", projectID, "state", state, "gaps", gaps, "duration", d)
}

func (h *LogHooks) OnExportStart(_ context.Context, projectID, format string) {
	h.Logger.Debug("export started", "project", projectID, "format", format)
}

func (h *LogHooks) OnExportComplete(_ context.Context, projectID, format string, size int, d time.Duration, err error) {
	if err != nil {
		h.Logger.Warn("export failed", "project", projectID, "format", format, "err", err)
		return
	}
	h.Logger.Debug("export finished", "project", projectID, "format", format, "bytes", size, "duration", d)
}

func (h *LogHooks) OnInvalidate(_ context.Context, projectID string, drawingLevel bool, artifacts int) {
	h.Logger.Debug("artifacts invalidated", "project", projectID, "drawing_level", drawingLevel, "artifacts", artifacts)
}

func (h *LogHooks) OnCacheHit(_ context.Context, keyType string) {
	h.Logger.Debug("cache hit", "type", keyType)
}

func (h *LogHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.Logger.Debug("cache miss", "type", keyType)
}

func (h *LogHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.Logger.Debug("cache set", "type", keyType, "bytes", size)
}

func (h *LogHooks) OnRequest(_ context.Context, method, path string) {
	h.Logger.Debug("request", "method", method, "path", path)
}

func (h *LogHooks) OnResponse(_ context.Context, method, path string, status int, d time.Duration) {
	h.Logger.Info("response", "method", method, "path", path, "status", status, "duration", d)
}

var (
	_ PipelineHooks = (*LogHooks)(nil)
	_ CacheHooks    = (*LogHooks)(nil)
	_ HTTPHooks     = (*LogHooks)(nil)
)
