package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/sse"
)

const EventClipboardUpdated = "clipboard_updated"

// ClipboardService holds the single shared clipboard value. Writers
// overwrite unconditionally.
type ClipboardService struct {
	mu       sync.RWMutex
	record   model.ClipboardRecord
	maxBytes int
	events   EventPublisher
	now      func() time.Time
}

func NewClipboardService(maxBytes int, events EventPublisher) *ClipboardService {
	return &ClipboardService{
		maxBytes: maxBytes,
		events:   events,
		now:      time.Now,
	}
}

func (s *ClipboardService) Get() model.ClipboardRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

func (s *ClipboardService) Set(ctx context.Context, content, deviceSource string) (model.ClipboardRecord, error) {
	if s.maxBytes > 0 && len(content) > s.maxBytes {
		return model.ClipboardRecord{}, apperrors.ValidationError(fmt.Sprintf("Clipboard content exceeds %d bytes", s.maxBytes))
	}
	if deviceSource == "" {
		deviceSource = "Unknown Device"
	}

	s.mu.Lock()
	s.record = model.ClipboardRecord{
		Content:      content,
		LastUpdated:  s.now(),
		DeviceSource: deviceSource,
	}
	record := s.record
	s.mu.Unlock()

	log.Debug().Str("deviceSource", deviceSource).Int("bytes", len(content)).Msg("clipboard updated")
	publish(ctx, s.events, sse.TopicBroadcast, EventClipboardUpdated, record)
	return record, nil
}
