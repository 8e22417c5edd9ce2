// Package handlers provides HTTP API handlers for audex.
package handlers

import (
	"time"

	"github.com/jmylchreest/audex/internal/models"
)

// Common response types

// ErrorResponse represents an error response written by the raw handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Pagination contains pagination parameters for list requests.
type Pagination struct {
	Page  int `query:"page" default:"1" minimum:"1" doc:"Page number (1-indexed)"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Items per page"`
}

// Offset returns the number of items to skip.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

// NewPaginationMeta builds the metadata for a page of total items.
func NewPaginationMeta(p Pagination, total int64) PaginationMeta {
	pages := int64(0)
	if p.Limit > 0 {
		pages = (total + int64(p.Limit) - 1) / int64(p.Limit)
	}
	return PaginationMeta{
		CurrentPage: p.Page,
		PageSize:    p.Limit,
		TotalItems:  total,
		TotalPages:  pages,
	}
}

// Extraction types

// ExtractionTimings holds per-stage durations in milliseconds.
type ExtractionTimings struct {
	EngineLoadMs  int64 `json:"engine_load_ms"`
	FileReadMs    int64 `json:"file_read_ms"`
	FileWriteMs   int64 `json:"file_write_ms"`
	CopyAttemptMs int64 `json:"copy_attempt_ms"`
	ReencodeMs    int64 `json:"reencode_ms"`
	OutputReadMs  int64 `json:"output_read_ms"`
	TotalMs       int64 `json:"total_ms"`
}

// ExtractionResponse represents an extraction job in API responses.
type ExtractionResponse struct {
	ID             models.ULID             `json:"id"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
	Filename       string                  `json:"filename"`
	FileSize       int64                   `json:"file_size"`
	MimeType       string                  `json:"mime_type,omitempty"`
	Status         models.ExtractionStatus `json:"status"`
	Stage          string                  `json:"stage,omitempty"`
	Percent        int                     `json:"percent"`
	Message        string                  `json:"message,omitempty"`
	Diagnostics    bool                    `json:"diagnostics"`
	Mode           string                  `json:"mode,omitempty"`
	OutputName     string                  `json:"output_name,omitempty"`
	OutputType     string                  `json:"output_type,omitempty"`
	OutputSize     int64                   `json:"output_size,omitempty"`
	ErrorKind      string                  `json:"error_kind,omitempty"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
	StartedAt      *time.Time              `json:"started_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
	Timings        *ExtractionTimings      `json:"timings,omitempty"`
	AudioURL       string                  `json:"audio_url,omitempty"`
	DiagnosticsURL string                  `json:"diagnostics_url,omitempty"`
}

// ExtractionFromModel converts a model to a response.
func ExtractionFromModel(r *models.ExtractionRecord) ExtractionResponse {
	resp := ExtractionResponse{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Filename:     r.Filename,
		FileSize:     r.FileSize,
		MimeType:     r.MimeType,
		Status:       r.Status,
		Stage:        r.Stage,
		Percent:      r.Percent,
		Message:      r.Message,
		Diagnostics:  r.DiagnosticsEnabled,
		Mode:         r.Mode,
		OutputName:   r.OutputName,
		OutputType:   r.OutputType,
		OutputSize:   r.OutputSize,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
	if r.Status.IsTerminal() {
		resp.Timings = &ExtractionTimings{
			EngineLoadMs:  r.EngineLoadMs,
			FileReadMs:    r.FileReadMs,
			FileWriteMs:   r.FileWriteMs,
			CopyAttemptMs: r.CopyAttemptMs,
			ReencodeMs:    r.ReencodeMs,
			OutputReadMs:  r.OutputReadMs,
			TotalMs:       r.DurationMs,
		}
	}
	base := extractionsPath + "/" + r.ID.String()
	if r.HasOutput() {
		resp.AudioURL = base + "/audio"
	}
	if r.Diagnostics != "" {
		resp.DiagnosticsURL = base + "/diagnostics"
	}
	return resp
}

// ExtractionListResponse is the paginated response for extraction listings.
type ExtractionListResponse struct {
	Pagination  PaginationMeta       `json:"pagination"`
	Extractions []ExtractionResponse `json:"extractions"`
}

// Health types

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo holds CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo holds resident memory of the server and the engine
// processes it runs.
type ProcessMemoryInfo struct {
	ServerMB           float64 `json:"server_mb"`
	EngineProcessesMB  float64 `json:"engine_processes_mb"`
	EngineProcessCount int     `json:"engine_process_count"`
	TotalMB            float64 `json:"total_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// HealthComponents holds per-component health.
type HealthComponents struct {
	Database DatabaseHealth `json:"database"`
	Engine   EngineHealth   `json:"engine"`
}

// DatabaseHealth holds database connectivity and pool information.
type DatabaseHealth struct {
	Status                 string  `json:"status"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
	ResponseTimeStatus     string  `json:"response_time_status"`
}

// EngineHealth holds codec engine and queue state.
type EngineHealth struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	State      string `json:"state,omitempty"`
	Mirror     string `json:"mirror,omitempty"`
	Loaded     bool   `json:"loaded"`
	Busy       bool   `json:"busy"`
	QueueDepth int    `json:"queue_depth"`
}
