package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RenderStatus is the outcome of one render attempt.
type RenderStatus string

const (
	StatusCompleted RenderStatus = "completed"
	StatusFailed    RenderStatus = "failed"
)

// RenderRecord is one row of the render history: a single output file
// the form tried to write.
type RenderRecord struct {
	ID         string       `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt  time.Time    `json:"created_at" gorm:"index"`
	Title      string       `json:"title" gorm:"size:255;not null"`
	Format     string       `json:"format" gorm:"size:16;not null"`
	Path       string       `json:"path" gorm:"size:1024"`
	Status     RenderStatus `json:"status" gorm:"size:16;not null;index"`
	ErrorKind  string       `json:"error_kind,omitempty" gorm:"size:32"`
	Error      string       `json:"error,omitempty" gorm:"size:2000"`
	SizeBytes  int64        `json:"size_bytes"`
	Checksum   string       `json:"checksum,omitempty" gorm:"size:64"`
	ArchiveKey string       `json:"archive_key,omitempty" gorm:"size:1024"`
	DurationMS int64        `json:"duration_ms"`
}

// TableName specifies the table name for the RenderRecord model
func (RenderRecord) TableName() string {
	return "render_records"
}

// BeforeCreate assigns an ID when the caller did not.
func (r *RenderRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsCompleted returns true if the file was written
func (r *RenderRecord) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// IsArchived returns true if a copy of the file was kept in storage
func (r *RenderRecord) IsArchived() bool {
	return r.ArchiveKey != ""
}

// All lists every model handled by migrations.
func All() []any {
	return []any{&RenderRecord{}}
}
