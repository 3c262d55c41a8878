package model

import (
	"time"
)

type StoredFile struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Modified     time.Time `json:"modified"`
	Direction    Direction `json:"direction"`
	Owner        string    `json:"owner"`
	IsDir        bool      `json:"is_dir"`
	HasThumbnail bool      `json:"has_thumbnail"`
}

type ClipboardRecord struct {
	Content      string    `json:"content"`
	LastUpdated  time.Time `json:"last_updated"`
	DeviceSource string    `json:"device_source"`
}
