package model

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusStopped   SessionStatus = "stopped"
	SessionStatusFailed    SessionStatus = "failed"
)

type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusInProgress UploadStatus = "inProgress"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
)

// Destination names where a backup session copies its files.
type Destination string

const (
	DestinationLocal Destination = "local"
	DestinationS3    Destination = "s3"
)

// Valid reports whether d is a known destination.
func (d Destination) Valid() bool {
	return d == DestinationLocal || d == DestinationS3
}

type BackupSession struct {
	ID              int64         `json:"id"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	Status          SessionStatus `json:"status"`
	TotalFiles      int           `json:"totalFiles"`
	CompletedFiles  int           `json:"completedFiles"`
	FailedFiles     int           `json:"failedFiles"`
	TotalSize       int64         `json:"totalSize"`
	SourceDirectory string        `json:"sourceDirectory"`
	Destination     Destination   `json:"destination"`
	DestinationPath string        `json:"destinationPath,omitempty"`
}

type FileUpload struct {
	ID           int64        `json:"id"`
	SessionID    int64        `json:"sessionId"`
	FilePath     string       `json:"filePath"`
	FileName     string       `json:"fileName"`
	FileSize     int64        `json:"fileSize"`
	Status       UploadStatus `json:"status"`
	UploadTime   *time.Time   `json:"uploadTime,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// BackupSessionDetails is a session together with all of its upload records.
type BackupSessionDetails struct {
	BackupSession
	Files []FileUpload `json:"files"`
}
