package model

import "time"

type ScanProgress struct {
	IsScanning         bool       `json:"isScanning"`
	TotalDirectories   int        `json:"totalDirectories"`
	ScannedDirectories int        `json:"scannedDirectories"`
	TotalPhotos        int        `json:"totalPhotos"`
	CurrentDirectory   string     `json:"currentDirectory"`
	StartTime          *time.Time `json:"startTime,omitempty"`
	EndTime            *time.Time `json:"endTime,omitempty"`
}

type ScanStats struct {
	TotalDirectories int `json:"totalDirectories"`
	TotalPhotos      int `json:"totalPhotos"`
}
