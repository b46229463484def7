package idmap

import "time"

// Mapping - соответствие ключа источника ключу цели для одной записи.
// Уникально по (ExecutionID, Table, SourceID).
type Mapping struct {
	ExecutionID    string `json:"executionId"`
	Table          string `json:"table"`
	SourceID       string `json:"sourceId"`
	SourceIDColumn string `json:"sourceIdColumn"`
	TargetID       string `json:"targetId"`
	TargetIDColumn string `json:"targetIdColumn"`
}

// AttachmentStatus - итог переноса вложения
type AttachmentStatus string

const (
	AttachmentMigrated AttachmentStatus = "migrated"
	AttachmentFailed   AttachmentStatus = "failed"
)

// AttachmentRecord - запись о переносе одного вложения документа
type AttachmentRecord struct {
	ExecutionID    string           `json:"executionId"`
	Table          string           `json:"table"`
	DocumentID     string           `json:"documentId"`
	AttachmentName string           `json:"attachmentName"`
	SourceURL      string           `json:"sourceUrl"`
	TargetURL      string           `json:"targetUrl,omitempty"`
	ContentType    string           `json:"contentType,omitempty"`
	Size           int64            `json:"size"`
	Checksum       string           `json:"checksum,omitempty"`
	Status         AttachmentStatus `json:"status"`
	Attempts       int              `json:"attempts"`
	Error          string           `json:"error,omitempty"`
	MigratedAt     time.Time        `json:"migratedAt"`
}
