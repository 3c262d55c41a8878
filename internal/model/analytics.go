package model

import (
	"time"
)

type AnalyticsEntry struct {
	ID        int64          `db:"id" json:"-"`
	Timestamp time.Time      `db:"timestamp" json:"timestamp"`
	Device    string         `db:"device" json:"device"`
	Filename  string         `db:"filename" json:"filename"`
	Size      int64          `db:"size" json:"size"`
	Direction Direction      `db:"direction" json:"direction"`
	Status    TransferStatus `db:"status" json:"status"`
}

type AnalyticsStats struct {
	TotalSent     int64 `db:"total_sent" json:"total_sent"`
	TotalReceived int64 `db:"total_received" json:"total_received"`
	Count         int64 `db:"count" json:"count"`
}

// Add folds a single entry into the running totals.
func (s *AnalyticsStats) Add(e AnalyticsEntry) {
	s.Count++
	if e.Status != TransferStatusSuccess {
		return
	}
	switch e.Direction {
	case DirectionSent:
		s.TotalSent += e.Size
	case DirectionReceived:
		s.TotalReceived += e.Size
	}
}
