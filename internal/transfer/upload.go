package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/config"
	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
)

// ProgressFunc is called with the bytes written so far and the declared
// total (zero when unknown). Values never decrease.
type ProgressFunc func(written, total int64)

type UploadParams struct {
	Scope
	Filename  string
	Size      int64
	Direction model.Direction
	Body      io.Reader
	Progress  ProgressFunc
}

// Upload streams Body to a temporary file and publishes it under the
// destination directory once complete. Sent uploads land in the session
// buffer, received uploads in the device namespace.
func (s *Store) Upload(ctx context.Context, p UploadParams) (*model.StoredFile, error) {
	if err := ValidateFilename(p.Filename); err != nil {
		return nil, err
	}
	if !p.Direction.IsValid() {
		return nil, apperrors.InvalidInput("direction", "must be sent or received")
	}
	if p.Size < 0 {
		return nil, apperrors.InvalidInput("size", "must not be negative")
	}

	var dir, owner string
	var epoch uint64
	switch p.Direction {
	case model.DirectionSent:
		sent, err := s.sentDir(p.SessionID)
		if err != nil {
			return nil, err
		}
		if epoch, err = s.beginSent(p.SessionID); err != nil {
			return nil, err
		}
		defer s.endSent(p.SessionID)
		dir, owner = sent, p.SessionID
	case model.DirectionReceived:
		dir, owner = s.receivedDir(p.DeviceName), p.DeviceName
	}

	start := s.now()
	file, written, err := s.receive(ctx, p, dir, owner, epoch)

	entry := model.AnalyticsEntry{
		Timestamp: s.now(),
		Device:    p.DeviceName,
		Filename:  p.Filename,
		Size:      written,
		Direction: p.Direction,
		Status:    model.TransferStatusSuccess,
	}
	if err != nil {
		entry.Status = model.TransferStatusFailed
		if p.Size > 0 {
			entry.Size = p.Size
		}
		s.record(ctx, entry)

		log.Warn().
			Err(err).
			Str("code", string(apperrors.GetCode(err))).
			Str("filename", p.Filename).
			Str("direction", string(p.Direction)).
			Int64("written", written).
			Msg("upload failed")
		return nil, err
	}

	entry.Filename = file.Name
	s.record(ctx, entry)

	log.Info().
		Str("filename", file.Name).
		Str("direction", string(p.Direction)).
		Str("owner", owner).
		Int64("size", file.Size).
		Dur("duration", time.Since(start)).
		Msg("upload completed")

	if p.Direction == model.DirectionReceived && isImage(file.Name) {
		s.generateThumbnailAsync(filepath.Join(dir, file.Name), p.DeviceName, file.Name)
	}

	s.publish(ctx, p.Scope, EventFileUploaded, file)
	return file, nil
}

func (s *Store) receive(ctx context.Context, p UploadParams, dir, owner string, epoch uint64) (*model.StoredFile, int64, error) {
	tmpPath := filepath.Join(s.root, tempDir, uuid.NewString()+partSuffix)
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, apperrors.TransferFailed(fmt.Errorf("create temp file: %w", err))
	}

	published := false
	defer func() {
		if !published {
			os.Remove(tmpPath)
		}
	}()

	progress := s.progressReporter(ctx, p)
	written, err := copyWithProgress(ctx, tmp, p.Body, p.Size, progress)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = apperrors.TransferFailed(fmt.Errorf("close temp file: %w", closeErr))
	}
	if err != nil {
		return nil, written, err
	}

	if p.Size > 0 && written != p.Size {
		return nil, written, apperrors.SizeMismatch(p.Size, written)
	}

	name, err := s.publishTemp(p, tmpPath, dir, epoch)
	if err != nil {
		return nil, written, err
	}
	published = true

	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		return nil, written, apperrors.TransferFailed(fmt.Errorf("stat upload: %w", err))
	}

	device := ""
	if p.Direction == model.DirectionReceived {
		device = p.DeviceName
	}
	file := s.storedFile(info, p.Direction, owner, device)
	return &file, written, nil
}

// publishTemp moves a completed temp file into dir under the publish lock
// and returns the name it was given.
func (s *Store) publishTemp(p UploadParams, tmpPath, dir string, epoch uint64) (string, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if p.Direction == model.DirectionSent && s.sentClosedLocked(p.SessionID, epoch) {
		return "", apperrors.Unauthorized("Session is closed")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.TransferFailed(fmt.Errorf("create destination: %w", err))
	}

	name := p.Filename
	if !s.overwrite.Load() {
		var err error
		if name, err = availableName(dir, p.Filename); err != nil {
			return "", apperrors.TransferFailed(fmt.Errorf("publish upload: %w", err))
		}
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return "", apperrors.TransferFailed(fmt.Errorf("publish upload: %w", err))
	}
	return name, nil
}

func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, config.TransferChunkSize)
	var written int64

	progress(0, total)
	for {
		if err := ctx.Err(); err != nil {
			return written, apperrors.TransferFailed(err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, apperrors.TransferFailed(fmt.Errorf("write: %w", err))
			}
			written += int64(n)
			progress(written, total)
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, apperrors.TransferFailed(fmt.Errorf("read: %w", readErr))
		}
	}
}

// progressReporter forwards every step to the caller and emits throttled
// progress events for push subscribers.
func (s *Store) progressReporter(ctx context.Context, p UploadParams) ProgressFunc {
	var last time.Time
	return func(written, total int64) {
		if p.Progress != nil {
			p.Progress(written, total)
		}

		now := s.now()
		done := total > 0 && written >= total
		if !done && now.Sub(last) < config.ProgressEventMinInterval {
			return
		}
		last = now
		s.publish(ctx, p.Scope, EventTransferProgress, map[string]any{
			"filename":  p.Filename,
			"direction": p.Direction,
			"written":   written,
			"total":     total,
		})
	}
}

func (s *Store) record(ctx context.Context, entry model.AnalyticsEntry) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Str("filename", entry.Filename).Msg("failed to record transfer")
	}
}
