package models

import (
	"time"

	"gorm.io/gorm"
)

// ExtractionStatus is the lifecycle state of a submitted extraction.
type ExtractionStatus string

const (
	ExtractionStatusPending   ExtractionStatus = "pending"
	ExtractionStatusRunning   ExtractionStatus = "running"
	ExtractionStatusCompleted ExtractionStatus = "completed"
	ExtractionStatusFailed    ExtractionStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s ExtractionStatus) IsTerminal() bool {
	return s == ExtractionStatusCompleted || s == ExtractionStatusFailed
}

// ExtractionRecord is the persisted history of one extraction job. Its ID is
// also the job ID used in logs and engine file names.
type ExtractionRecord struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Filename string `gorm:"not null;size:512" json:"filename"`
	FileSize int64  `gorm:"not null" json:"file_size"`
	MimeType string `gorm:"size:128" json:"mime_type"`
	// UploadPath is the spooled input, relative to the upload directory.
	UploadPath string `gorm:"size:512" json:"-"`

	Status  ExtractionStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	Stage   string           `gorm:"size:32" json:"stage,omitempty"`
	Percent int              `gorm:"default:0" json:"percent"`
	Message string           `gorm:"size:255" json:"message,omitempty"`

	DiagnosticsEnabled bool  `gorm:"default:false" json:"diagnostics_enabled"`
	TimeoutMs          int64 `gorm:"default:0" json:"timeout_ms,omitempty"`

	Mode       string `gorm:"size:16" json:"mode,omitempty"`
	OutputName string `gorm:"size:512" json:"output_name,omitempty"`
	OutputType string `gorm:"size:64" json:"output_type,omitempty"`
	OutputSize int64  `gorm:"default:0" json:"output_size,omitempty"`
	// OutputPath is the stored audio, relative to the output directory.
	OutputPath string `gorm:"size:512" json:"-"`

	ErrorKind    string `gorm:"size:64;index" json:"error_kind,omitempty"`
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`
	// Diagnostics is the formatted report, when diagnostics were enabled.
	Diagnostics string `gorm:"type:text" json:"-"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	EngineLoadMs  int64 `json:"engine_load_ms,omitempty"`
	FileReadMs    int64 `json:"file_read_ms,omitempty"`
	FileWriteMs   int64 `json:"file_write_ms,omitempty"`
	CopyAttemptMs int64 `json:"copy_attempt_ms,omitempty"`
	ReencodeMs    int64 `json:"reencode_ms,omitempty"`
	OutputReadMs  int64 `json:"output_read_ms,omitempty"`
}

// TableName returns the table name for ExtractionRecord.
func (ExtractionRecord) TableName() string {
	return "extraction_records"
}

// Validate checks required fields.
func (r *ExtractionRecord) Validate() error {
	if r.Filename == "" {
		return FieldError{Field: "filename", Message: "is required"}
	}
	if r.FileSize < 0 {
		return FieldError{Field: "file_size", Message: "must not be negative"}
	}
	return nil
}

// BeforeCreate assigns an ID when unset and validates the record.
func (r *ExtractionRecord) BeforeCreate(*gorm.DB) error {
	if r.ID.IsZero() {
		r.ID = NewULID()
	}
	return r.Validate()
}

// HasOutput reports whether stored audio is available for download.
func (r *ExtractionRecord) HasOutput() bool {
	return r.Status == ExtractionStatusCompleted && r.OutputPath != ""
}

// MarkRunning records the start of processing.
func (r *ExtractionRecord) MarkRunning() {
	now := time.Now()
	r.Status = ExtractionStatusRunning
	r.StartedAt = &now
}

// MarkCompleted records a successful extraction.
func (r *ExtractionRecord) MarkCompleted() {
	r.Status = ExtractionStatusCompleted
	r.Percent = 100
	r.ErrorKind = ""
	r.ErrorMessage = ""
	r.finish()
}

// MarkFailed records a failed extraction. kind may be empty for errors
// outside the extraction taxonomy.
func (r *ExtractionRecord) MarkFailed(kind string, err error) {
	r.Status = ExtractionStatusFailed
	r.ErrorKind = kind
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	r.finish()
}

func (r *ExtractionRecord) finish() {
	now := time.Now()
	r.CompletedAt = &now
	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// SetTimings stores per-stage durations.
func (r *ExtractionRecord) SetTimings(engineLoad, fileRead, fileWrite, copyAttempt, reencode, outputRead time.Duration) {
	r.EngineLoadMs = engineLoad.Milliseconds()
	r.FileReadMs = fileRead.Milliseconds()
	r.FileWriteMs = fileWrite.Milliseconds()
	r.CopyAttemptMs = copyAttempt.Milliseconds()
	r.ReencodeMs = reencode.Milliseconds()
	r.OutputReadMs = outputRead.Milliseconds()
}
