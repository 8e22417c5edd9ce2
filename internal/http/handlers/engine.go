package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/extract"
	"github.com/jmylchreest/audex/pkg/format"
)

// EngineController is the extraction service surface used by EngineHandler.
// *extract.Service implements it.
type EngineController interface {
	PreloadEngine(ctx context.Context) error
	IsEngineLoaded() bool
	CheckSupport(ctx context.Context) error
	Policy() extract.Policy
	QueueDepth() int
	Busy() bool
}

// LoaderStatus exposes loader lifecycle details. *engine.Loader implements it.
type LoaderStatus interface {
	State() engine.State
	Mirror() string
}

// EngineHandler handles codec engine endpoints.
type EngineHandler struct {
	controller     EngineController
	loader         LoaderStatus
	preloadTimeout time.Duration
}

// NewEngineHandler creates a new engine handler.
func NewEngineHandler(controller EngineController) *EngineHandler {
	return &EngineHandler{
		controller:     controller,
		preloadTimeout: 5 * time.Minute,
	}
}

// WithLoader adds loader state and the active mirror to responses.
func (h *EngineHandler) WithLoader(loader LoaderStatus) *EngineHandler {
	h.loader = loader
	return h
}

// WithPreloadTimeout bounds a preload request.
func (h *EngineHandler) WithPreloadTimeout(d time.Duration) *EngineHandler {
	if d > 0 {
		h.preloadTimeout = d
	}
	return h
}

// EngineResponse describes the engine and extraction policy.
type EngineResponse struct {
	Loaded        bool   `json:"loaded"`
	State         string `json:"state,omitempty"`
	Mirror        string `json:"mirror,omitempty"`
	Supported     bool   `json:"supported"`
	Unsupported   string `json:"unsupported_reason,omitempty"`
	Busy          bool   `json:"busy"`
	QueueDepth    int    `json:"queue_depth"`
	SizeThreshold int64  `json:"size_threshold"`
	ThresholdText string `json:"size_threshold_text"`
	Timeout       string `json:"timeout"`
}

// EngineInput is the input for the engine endpoints.
type EngineInput struct{}

// EngineOutput is the output for the engine endpoints.
type EngineOutput struct {
	Body EngineResponse
}

// Register registers the engine routes with the API.
func (h *EngineHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getEngine",
		Method:      "GET",
		Path:        "/api/v1/engine",
		Summary:     "Get engine status",
		Description: "Returns whether the codec engine is loaded and whether this host supports extraction",
		Tags:        []string{"Engine"},
	}, h.GetEngine)

	huma.Register(api, huma.Operation{
		OperationID: "preloadEngine",
		Method:      "POST",
		Path:        "/api/v1/engine/preload",
		Summary:     "Preload engine",
		Description: "Downloads and initialises the codec engine ahead of the first extraction",
		Tags:        []string{"Engine"},
	}, h.Preload)
}

// GetEngine returns the engine status.
func (h *EngineHandler) GetEngine(ctx context.Context, _ *EngineInput) (*EngineOutput, error) {
	return &EngineOutput{Body: h.status(ctx)}, nil
}

// Preload loads the engine and returns the resulting status.
func (h *EngineHandler) Preload(ctx context.Context, _ *EngineInput) (*EngineOutput, error) {
	if err := h.controller.CheckSupport(ctx); err != nil {
		return nil, huma.Error422UnprocessableEntity("extraction is not supported on this host", err)
	}
	ctx, cancel := context.WithTimeout(ctx, h.preloadTimeout)
	defer cancel()
	if err := h.controller.PreloadEngine(ctx); err != nil {
		switch {
		case errors.Is(err, engine.ErrLoadNotFound):
			return nil, huma.Error502BadGateway("engine artifacts not found on any mirror", err)
		case errors.Is(err, engine.ErrLoadTimeout), errors.Is(err, context.DeadlineExceeded):
			return nil, huma.Error504GatewayTimeout("engine load timed out", err)
		default:
			return nil, huma.Error500InternalServerError("engine load failed", err)
		}
	}
	return &EngineOutput{Body: h.status(ctx)}, nil
}

func (h *EngineHandler) status(ctx context.Context) EngineResponse {
	policy := h.controller.Policy()
	resp := EngineResponse{
		Loaded:        h.controller.IsEngineLoaded(),
		Supported:     true,
		Busy:          h.controller.Busy(),
		QueueDepth:    h.controller.QueueDepth(),
		SizeThreshold: policy.SizeThreshold,
		ThresholdText: format.Bytes(policy.SizeThreshold),
		Timeout:       format.Duration(policy.Timeout),
	}
	if err := h.controller.CheckSupport(ctx); err != nil {
		resp.Supported = false
		resp.Unsupported = err.Error()
	}
	if h.loader != nil {
		resp.State = h.loader.State().String()
		resp.Mirror = h.loader.Mirror()
	}
	return resp
}
