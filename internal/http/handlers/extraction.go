package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/audex/internal/models"
	"github.com/jmylchreest/audex/internal/repository"
	"github.com/jmylchreest/audex/internal/service"
	"github.com/jmylchreest/audex/pkg/duration"
)

const extractionsPath = "/api/v1/extractions"

// uploadField is the multipart field carrying the media file.
const uploadField = "file"

// ExtractionManager is the job service used by ExtractionHandler.
// *service.ExtractionService implements it.
type ExtractionManager interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.ExtractionRecord, error)
	Get(ctx context.Context, id models.ULID) (*models.ExtractionRecord, error)
	List(ctx context.Context, filter repository.ExtractionFilter) ([]*models.ExtractionRecord, int64, error)
	OpenOutput(ctx context.Context, id models.ULID) (*os.File, *models.ExtractionRecord, error)
	Diagnostics(ctx context.Context, id models.ULID) (string, error)
	Delete(ctx context.Context, id models.ULID) error
}

// ExtractionHandler handles extraction job endpoints.
type ExtractionHandler struct {
	manager       ExtractionManager
	maxUploadSize int64
	logger        *slog.Logger
}

// NewExtractionHandler creates a new extraction handler. maxUploadSize caps
// request bodies; zero or less means unlimited.
func NewExtractionHandler(manager ExtractionManager, maxUploadSize int64) *ExtractionHandler {
	return &ExtractionHandler{
		manager:       manager,
		maxUploadSize: maxUploadSize,
		logger:        slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (h *ExtractionHandler) WithLogger(logger *slog.Logger) *ExtractionHandler {
	h.logger = logger
	return h
}

// ListExtractionsInput is the input for listing extractions.
type ListExtractionsInput struct {
	Pagination
	Status string `query:"status" doc:"Filter by status (pending, running, completed, failed)"`
}

// ListExtractionsOutput is the output for listing extractions.
type ListExtractionsOutput struct {
	Body ExtractionListResponse
}

// ExtractionIDInput identifies one extraction.
type ExtractionIDInput struct {
	ID string `path:"id" doc:"Extraction ID (ULID)"`
}

// GetExtractionOutput is the output for getting an extraction.
type GetExtractionOutput struct {
	Body ExtractionResponse
}

// DeleteExtractionOutput is the output for deleting an extraction.
type DeleteExtractionOutput struct{}

// Register registers the JSON extraction routes with the API.
func (h *ExtractionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listExtractions",
		Method:      "GET",
		Path:        extractionsPath,
		Summary:     "List extractions",
		Description: "Returns submitted extraction jobs, newest first",
		Tags:        []string{"Extractions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getExtraction",
		Method:      "GET",
		Path:        extractionsPath + "/{id}",
		Summary:     "Get extraction",
		Description: "Returns one extraction job with its progress or result",
		Tags:        []string{"Extractions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteExtraction",
		Method:        "DELETE",
		Path:          extractionsPath + "/{id}",
		Summary:       "Delete extraction",
		Description:   "Deletes a finished extraction and its stored audio",
		Tags:          []string{"Extractions"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)
}

// RegisterRoutes registers the upload and download routes, which stream raw
// bodies and so bypass huma.
func (h *ExtractionHandler) RegisterRoutes(router chi.Router) {
	router.Post(extractionsPath, h.handleUpload)
	router.Get(extractionsPath+"/{id}/audio", h.handleAudio)
	router.Get(extractionsPath+"/{id}/diagnostics", h.handleDiagnostics)
}

// List returns a page of extractions.
func (h *ExtractionHandler) List(ctx context.Context, input *ListExtractionsInput) (*ListExtractionsOutput, error) {
	records, total, err := h.manager.List(ctx, repository.ExtractionFilter{
		Status: models.ExtractionStatus(input.Status),
		Offset: input.Offset(),
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list extractions", err)
	}

	out := &ListExtractionsOutput{
		Body: ExtractionListResponse{
			Pagination:  NewPaginationMeta(input.Pagination, total),
			Extractions: make([]ExtractionResponse, 0, len(records)),
		},
	}
	for _, r := range records {
		out.Body.Extractions = append(out.Body.Extractions, ExtractionFromModel(r))
	}
	return out, nil
}

// Get returns one extraction.
func (h *ExtractionHandler) Get(ctx context.Context, input *ExtractionIDInput) (*GetExtractionOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid extraction id", err)
	}
	record, err := h.manager.Get(ctx, id)
	if err != nil {
		return nil, humaError(err)
	}
	return &GetExtractionOutput{Body: ExtractionFromModel(record)}, nil
}

// Delete removes a finished extraction.
func (h *ExtractionHandler) Delete(ctx context.Context, input *ExtractionIDInput) (*DeleteExtractionOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid extraction id", err)
	}
	if err := h.manager.Delete(ctx, id); err != nil {
		return nil, humaError(err)
	}
	return &DeleteExtractionOutput{}, nil
}

func humaError(err error) error {
	var verr models.FieldError
	switch {
	case errors.Is(err, models.ErrExtractionNotFound):
		return huma.Error404NotFound("extraction not found")
	case errors.Is(err, models.ErrOutputNotAvailable):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &verr):
		return huma.Error409Conflict(verr.Message)
	default:
		return huma.Error500InternalServerError("extraction request failed", err)
	}
}

// handleUpload accepts a multipart upload and queues it. The file part is
// streamed into the service without buffering the whole body.
func (h *ExtractionHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	diagnostics := false
	if v := query.Get("diagnostics"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid diagnostics flag", err)
			return
		}
		diagnostics = b
	}
	var timeout time.Duration
	if v := query.Get("timeout"); v != "" {
		d, err := duration.Parse(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout", err)
			return
		}
		timeout = d
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body", err)
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "missing form field "+strconv.Quote(uploadField), nil)
			return
		}
		if err != nil {
			h.writeUploadError(w, err)
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		record, err := h.manager.Submit(r.Context(), service.SubmitRequest{
			Filename:    part.FileName(),
			MimeType:    part.Header.Get("Content-Type"),
			Body:        part,
			Diagnostics: diagnostics,
			Timeout:     timeout,
		})
		_ = part.Close()
		if err != nil {
			h.writeUploadError(w, err)
			return
		}

		w.Header().Set("Location", extractionsPath+"/"+record.ID.String())
		writeJSON(w, http.StatusAccepted, ExtractionFromModel(record))
		return
	}
}

func (h *ExtractionHandler) writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	var verr models.FieldError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit), nil)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error(), nil)
	default:
		h.logger.Error("upload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "upload failed", err)
	}
}

// handleAudio streams the stored audio of a completed extraction.
func (h *ExtractionHandler) handleAudio(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid extraction id", err)
		return
	}
	f, record, err := h.manager.OpenOutput(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", record.OutputType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": record.OutputName,
	}))
	modTime := record.UpdatedAt
	if record.CompletedAt != nil {
		modTime = *record.CompletedAt
	}
	http.ServeContent(w, r, record.OutputName, modTime, f)
}

// handleDiagnostics returns the plain-text diagnostics report.
func (h *ExtractionHandler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid extraction id", err)
		return
	}
	report, err := h.manager.Diagnostics(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, report)
}

func (h *ExtractionHandler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrExtractionNotFound):
		writeError(w, http.StatusNotFound, "extraction not found", nil)
	case errors.Is(err, models.ErrOutputNotAvailable):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	default:
		h.logger.Error("extraction lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "lookup failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
