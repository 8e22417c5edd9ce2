// Package service coordinates submitted extractions: it spools uploads,
// runs them through the extraction queue, mirrors progress into the hub and
// the job history, and keeps the produced audio for download.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/audex/internal/extract"
	"github.com/jmylchreest/audex/internal/models"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/progress"
	"github.com/jmylchreest/audex/internal/repository"
	"github.com/jmylchreest/audex/internal/storage"
)

const (
	// progressPersistInterval throttles progress writes to the database.
	progressPersistInterval = time.Second
	persistTimeout          = 10 * time.Second
)

// Extractor runs one extraction. *extract.Service implements it.
type Extractor interface {
	ExtractAudio(ctx context.Context, src extract.Source, opts extract.Options) (*extract.Result, error)
}

// SubmitRequest describes an uploaded file to extract.
type SubmitRequest struct {
	Filename    string
	MimeType    string
	Body        io.Reader
	Diagnostics bool
	Timeout     time.Duration
}

// ExtractionService manages submitted extraction jobs.
type ExtractionService struct {
	repo      repository.ExtractionRepository
	extractor Extractor
	hub       *progress.Hub
	uploads   *storage.Sandbox
	outputs   *storage.Sandbox
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExtractionService creates a new ExtractionService.
func NewExtractionService(
	repo repository.ExtractionRepository,
	extractor Extractor,
	hub *progress.Hub,
	uploads, outputs *storage.Sandbox,
) *ExtractionService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExtractionService{
		repo:      repo,
		extractor: extractor,
		hub:       hub,
		uploads:   uploads,
		outputs:   outputs,
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets a custom logger.
func (s *ExtractionService) WithLogger(logger *slog.Logger) *ExtractionService {
	s.logger = observability.WithComponent(logger, "extraction_service")
	return s
}

// Submit spools the upload, records the job and starts it in the background.
func (s *ExtractionService) Submit(ctx context.Context, req SubmitRequest) (*models.ExtractionRecord, error) {
	name := filepath.Base(strings.ReplaceAll(req.Filename, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return nil, models.FieldError{Field: "file", Message: "a file name is required"}
	}
	if req.Body == nil {
		return nil, models.FieldError{Field: "file", Message: "no content"}
	}
	if req.Timeout < 0 {
		return nil, models.FieldError{Field: "timeout", Message: "must not be negative"}
	}

	id := models.NewULID()
	uploadPath := id.String() + strings.ToLower(filepath.Ext(name))
	if err := s.uploads.AtomicWriteReader(uploadPath, req.Body); err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}
	size, err := s.uploads.Size(uploadPath)
	if err != nil {
		_ = s.uploads.Remove(uploadPath)
		return nil, fmt.Errorf("sizing upload: %w", err)
	}

	mimeType := req.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = extract.MIMEType(name)
	}
	record := &models.ExtractionRecord{
		Filename:           name,
		FileSize:           size,
		MimeType:           mimeType,
		UploadPath:         uploadPath,
		Status:             models.ExtractionStatusPending,
		Message:            "Queued",
		DiagnosticsEnabled: req.Diagnostics,
		TimeoutMs:          req.Timeout.Milliseconds(),
	}
	record.ID = id
	if err := s.repo.Create(ctx, record); err != nil {
		_ = s.uploads.Remove(uploadPath)
		return nil, err
	}

	handle := s.hub.Track(id.String(), name)
	s.logger.Info("extraction submitted",
		slog.String("job_id", id.String()),
		slog.String("filename", name),
		slog.Int64("size", size),
	)

	snapshot := *record
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(record, handle)
	}()
	return &snapshot, nil
}

func (s *ExtractionService) run(record *models.ExtractionRecord, handle *progress.JobHandle) {
	logger := observability.WithJob(s.logger, record.ID.String())
	defer s.removeUpload(record, logger)

	record.MarkRunning()
	s.save(record, logger)

	err := s.extract(record, handle)
	if err != nil {
		record.MarkFailed(string(extract.KindOf(err)), err)
		var e *extract.Error
		if errors.As(err, &e) && e.Diagnostics != nil {
			record.Diagnostics = extract.FormatDiagnosticsReport(e.Diagnostics)
		}
		handle.Fail(err)
		observability.WithError(logger, err).Warn("extraction failed",
			slog.String("kind", record.ErrorKind),
		)
	} else {
		record.MarkCompleted()
		handle.Complete("Audio extracted")
	}
	s.save(record, logger)
}

func (s *ExtractionService) extract(record *models.ExtractionRecord, handle *progress.JobHandle) error {
	f, err := s.uploads.Open(record.UploadPath)
	if err != nil {
		return fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	var lastPersist time.Time
	onProgress := func(ev progress.Event) {
		handle.Progress(ev)
		record.Stage, record.Percent, record.Message = string(ev.Stage), ev.Percent, ev.Message
		if time.Since(lastPersist) < progressPersistInterval {
			return
		}
		lastPersist = time.Now()
		ctx, cancel := context.WithTimeout(s.ctx, persistTimeout)
		defer cancel()
		if err := s.repo.UpdateProgress(ctx, record.ID, record.Stage, record.Percent, record.Message); err != nil {
			s.logger.Debug("failed to persist progress", slog.String("error", err.Error()))
		}
	}

	src := extract.NewSource(record.Filename, f, record.FileSize, record.MimeType)
	res, err := s.extractor.ExtractAudio(s.ctx, src, extract.Options{
		OnProgress:        onProgress,
		EnableDiagnostics: record.DiagnosticsEnabled,
		Timeout:           time.Duration(record.TimeoutMs) * time.Millisecond,
		JobID:             record.ID.String(),
	})
	if err != nil {
		return err
	}

	outputPath := path.Join(record.ID.String(), res.Output.Name)
	if err := s.outputs.AtomicWrite(outputPath, res.Output.Data); err != nil {
		return fmt.Errorf("storing output: %w", err)
	}

	t := res.Timings
	record.Mode = string(res.Mode)
	record.OutputName = res.Output.Name
	record.OutputType = res.Output.Type
	record.OutputSize = int64(len(res.Output.Data))
	record.OutputPath = outputPath
	record.SetTimings(t.EngineLoad, t.FileRead, t.FileWrite, t.CopyAttempt, t.Reencode, t.OutputRead)
	if res.Diagnostics != nil {
		record.Diagnostics = extract.FormatDiagnosticsReport(res.Diagnostics)
	}
	return nil
}

func (s *ExtractionService) save(record *models.ExtractionRecord, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
	defer cancel()
	if err := s.repo.Update(ctx, record); err != nil {
		logger.Error("failed to save extraction record", slog.String("error", err.Error()))
	}
}

func (s *ExtractionService) removeUpload(record *models.ExtractionRecord, logger *slog.Logger) {
	if record.UploadPath == "" {
		return
	}
	if err := s.uploads.Remove(record.UploadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove upload", slog.String("error", err.Error()))
	}
}

// Get returns a record.
func (s *ExtractionService) Get(ctx context.Context, id models.ULID) (*models.ExtractionRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns records newest first.
func (s *ExtractionService) List(ctx context.Context, filter repository.ExtractionFilter) ([]*models.ExtractionRecord, int64, error) {
	return s.repo.List(ctx, filter)
}

// OpenOutput opens the stored audio of a completed extraction.
func (s *ExtractionService) OpenOutput(ctx context.Context, id models.ULID) (*os.File, *models.ExtractionRecord, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !record.HasOutput() {
		return nil, record, models.ErrOutputNotAvailable
	}
	f, err := s.outputs.Open(record.OutputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, record, models.ErrOutputNotAvailable
		}
		return nil, record, fmt.Errorf("opening output: %w", err)
	}
	return f, record, nil
}

// Diagnostics returns the formatted diagnostics report of an extraction.
func (s *ExtractionService) Diagnostics(ctx context.Context, id models.ULID) (string, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if record.Diagnostics == "" {
		return "", fmt.Errorf("extraction %s has no diagnostics report: %w", id, models.ErrOutputNotAvailable)
	}
	return record.Diagnostics, nil
}

// Delete removes a finished extraction and its stored files.
func (s *ExtractionService) Delete(ctx context.Context, id models.ULID) error {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !record.Status.IsTerminal() {
		return models.FieldError{Field: "status", Message: "extraction is still " + string(record.Status)}
	}
	return s.purge(ctx, record)
}

// PurgeFinishedBefore deletes terminal records that completed before cutoff,
// with their stored audio. It returns the number of records deleted.
func (s *ExtractionService) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := s.repo.GetFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	var errs []error
	purged := 0
	for _, record := range records {
		if err := s.purge(ctx, record); err != nil {
			errs = append(errs, err)
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

func (s *ExtractionService) purge(ctx context.Context, record *models.ExtractionRecord) error {
	if err := s.outputs.RemoveAll(record.ID.String()); err != nil {
		return fmt.Errorf("removing output of %s: %w", record.ID, err)
	}
	if record.UploadPath != "" {
		if err := s.uploads.Remove(record.UploadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing upload of %s: %w", record.ID, err)
		}
	}
	return s.repo.Delete(ctx, record.ID)
}

// RemoveOrphanedUploads deletes spooled uploads modified before cutoff that
// no pending or running record references. It returns the removed names.
func (s *ExtractionService) RemoveOrphanedUploads(ctx context.Context, cutoff time.Time) ([]string, error) {
	unfinished, err := s.repo.GetUnfinished(ctx)
	if err != nil {
		return nil, err
	}
	inUse := make(map[string]bool, len(unfinished))
	for _, record := range unfinished {
		inUse[record.UploadPath] = true
	}

	removed, err := s.uploads.RemoveStale("", cutoff, func(name string) bool { return inUse[name] })
	if err != nil {
		return removed, fmt.Errorf("removing orphaned uploads: %w", err)
	}
	return removed, nil
}

// FailUnfinished marks records left pending or running by a previous process
// as failed. It returns how many were updated.
func (s *ExtractionService) FailUnfinished(ctx context.Context) (int, error) {
	records, err := s.repo.GetUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		record.MarkFailed("", errors.New("interrupted by shutdown"))
		if err := s.repo.Update(ctx, record); err != nil {
			return 0, err
		}
		s.removeUpload(record, s.logger)
	}
	return len(records), nil
}

// Close stops waiting jobs and waits for background work to finish.
func (s *ExtractionService) Close() {
	s.cancel()
	s.wg.Wait()
}
