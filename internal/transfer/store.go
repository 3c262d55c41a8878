package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/sse"
	"github.com/turbotransfer/host/internal/util"
)

const (
	sessionsDir   = ".sessions"
	outgoingDir   = "outgoing"
	tempDir       = ".tmp"
	thumbnailsDir = ".thumbnails"
	metadataDir   = ".metadata"
	ownerFile     = ".owner"
	partSuffix    = ".part"
)

const (
	EventFileUploaded     = "file_uploaded"
	EventFilesDeleted     = "files_deleted"
	EventTransferProgress = "transfer_progress"
	EventStorageCleared   = "storage_cleared"
)

// AnalyticsRecorder receives one entry per completed upload or download.
type AnalyticsRecorder interface {
	Record(ctx context.Context, entry model.AnalyticsEntry) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

// Scope identifies whose files an operation may touch: the session's sent
// buffer and the device's received namespace.
type Scope struct {
	SessionID  string
	DeviceName string
}

type Options struct {
	Root                string
	OverwriteDuplicates bool
	Now                 func() time.Time
}

// Store keeps received files per device and sent files per session under a
// single root directory. Uploads stream outside any lock; only choosing the
// final name and renaming into place is serialized.
type Store struct {
	root      string
	overwrite atomic.Bool
	publishMu sync.Mutex
	recorder  AnalyticsRecorder
	events    Publisher
	now       func() time.Time
	thumbs    sync.WaitGroup

	// guarded by publishMu
	closed   map[string]time.Time
	inflight map[string]int
	epoch    uint64
}

func NewStore(recorder AnalyticsRecorder, events Publisher, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("transfer root is empty")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve transfer root: %w", err)
	}
	for _, dir := range []string{root, filepath.Join(root, tempDir), filepath.Join(root, sessionsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		root:     root,
		closed:   make(map[string]time.Time),
		inflight: make(map[string]int),
		recorder: recorder,
		events:   events,
		now:      opts.Now,
	}
	s.overwrite.Store(opts.OverwriteDuplicates)
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) OverwriteDuplicates() bool {
	return s.overwrite.Load()
}

func (s *Store) SetOverwriteDuplicates(v bool) {
	s.overwrite.Store(v)
	log.Info().Bool("overwriteDuplicates", v).Msg("duplicate policy changed")
}

func (s *Store) receivedDir(device string) string {
	return filepath.Join(s.root, DeviceDirName(device))
}

func (s *Store) sentDir(sessionID string) (string, error) {
	if !util.IsValidUUID(sessionID) {
		return "", apperrors.Unauthorized("Invalid session")
	}
	return filepath.Join(s.root, sessionsDir, sessionID, outgoingDir), nil
}

func (s *Store) thumbnailFile(device, name string) string {
	return filepath.Join(s.root, thumbnailsDir, DeviceDirName(device), name+".png")
}

// NamespaceAvailable reports whether device's received namespace is free
// for fingerprint: either it does not exist yet or it was claimed by the
// same fingerprint. Namespaces claimed without a fingerprint belong to no
// one who can prove it and are never reused.
func (s *Store) NamespaceAvailable(device, fingerprint string) bool {
	dir := s.receivedDir(device)
	owner, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err == nil {
		return fingerprint != "" && string(owner) == fingerprint
	}
	_, err = os.Stat(dir)
	return os.IsNotExist(err)
}

// ClaimNamespace records fingerprint as the owner of device's received
// namespace.
func (s *Store) ClaimNamespace(device, fingerprint string) error {
	dir := s.receivedDir(device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create namespace: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ownerFile), []byte(fingerprint), 0o600); err != nil {
		return fmt.Errorf("write namespace owner: %w", err)
	}
	return nil
}

// List returns the session's sent files and the device's received files,
// newest first. Either half is skipped when the scope leaves it empty.
func (s *Store) List(scope Scope) ([]model.StoredFile, error) {
	files := make([]model.StoredFile, 0)

	if scope.SessionID != "" {
		dir, err := s.sentDir(scope.SessionID)
		if err != nil {
			return nil, err
		}
		sent, err := s.listDir(dir, model.DirectionSent, scope.SessionID, "")
		if err != nil {
			return nil, err
		}
		files = append(files, sent...)
	}

	if scope.DeviceName != "" {
		received, err := s.listDir(s.receivedDir(scope.DeviceName), model.DirectionReceived, scope.DeviceName, scope.DeviceName)
		if err != nil {
			return nil, err
		}
		files = append(files, received...)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

// ListAllReceived returns every device's received files, newest first.
// Owner is the device's directory name.
func (s *Store) ListAllReceived() ([]model.StoredFile, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read transfer root: %w", err)
	}

	files := make([]model.StoredFile, 0)
	for _, entry := range entries {
		if !entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		device := entry.Name()
		received, err := s.listDir(filepath.Join(s.root, device), model.DirectionReceived, device, device)
		if err != nil {
			return nil, err
		}
		files = append(files, received...)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

func (s *Store) listDir(dir string, direction model.Direction, owner, device string) ([]model.StoredFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", direction, err)
	}

	files := make([]model.StoredFile, 0, len(entries))
	for _, entry := range entries {
		if isHidden(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, s.storedFile(info, direction, owner, device))
	}
	return files, nil
}

func (s *Store) storedFile(info os.FileInfo, direction model.Direction, owner, device string) model.StoredFile {
	f := model.StoredFile{
		Name:      info.Name(),
		Size:      info.Size(),
		Modified:  info.ModTime(),
		Direction: direction,
		Owner:     owner,
		IsDir:     info.IsDir(),
	}
	if device != "" && !f.IsDir && isImage(f.Name) {
		if _, err := os.Stat(s.thumbnailFile(device, f.Name)); err == nil {
			f.HasThumbnail = true
		}
	}
	return f
}

// resolve finds name in the scope, checking the sent buffer before the
// received namespace.
func (s *Store) resolve(scope Scope, name string) (string, model.StoredFile, error) {
	if err := ValidateFilename(name); err != nil {
		return "", model.StoredFile{}, err
	}

	if scope.SessionID != "" {
		dir, err := s.sentDir(scope.SessionID)
		if err != nil {
			return "", model.StoredFile{}, err
		}
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil {
			return path, s.storedFile(info, model.DirectionSent, scope.SessionID, ""), nil
		}
	}

	if scope.DeviceName != "" {
		path := filepath.Join(s.receivedDir(scope.DeviceName), name)
		if info, err := os.Stat(path); err == nil {
			return path, s.storedFile(info, model.DirectionReceived, scope.DeviceName, scope.DeviceName), nil
		}
	}

	return "", model.StoredFile{}, apperrors.NotFound("File")
}

// BatchDelete removes every resolvable name and skips the rest.
func (s *Store) BatchDelete(ctx context.Context, scope Scope, names []string) (int, error) {
	deleted := make([]string, 0, len(names))
	for _, name := range names {
		path, file, err := s.resolve(scope, name)
		if err != nil {
			if !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
				log.Debug().Err(err).Str("filename", name).Msg("batch delete skipped name")
			}
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("filename", name).Msg("batch delete failed")
			continue
		}
		if file.Direction == model.DirectionReceived {
			os.Remove(s.thumbnailFile(scope.DeviceName, name))
		}
		deleted = append(deleted, name)
	}

	if len(deleted) > 0 {
		s.publish(ctx, scope, EventFilesDeleted, map[string]any{"filenames": deleted})
	}
	return len(deleted), nil
}

// ThumbnailPath returns the generated preview for a received image.
func (s *Store) ThumbnailPath(scope Scope, name string) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	if scope.DeviceName == "" {
		return "", apperrors.NotFound("Thumbnail")
	}
	path := s.thumbnailFile(scope.DeviceName, name)
	if _, err := os.Stat(path); err != nil {
		return "", apperrors.NotFound("Thumbnail")
	}
	return path, nil
}

// CleanupSession removes the session's sent buffer. Received files persist.
// Sent uploads still streaming for the session are refused at publish time.
func (s *Store) CleanupSession(sessionID string) error {
	if !util.IsValidUUID(sessionID) {
		return nil
	}
	s.publishMu.Lock()
	s.closed[sessionID] = s.now()
	s.publishMu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.root, sessionsDir, sessionID)); err != nil {
		return fmt.Errorf("remove session buffer: %w", err)
	}
	return nil
}

// CleanupTransient removes every sent buffer and in-flight upload.
func (s *Store) CleanupTransient() error {
	s.publishMu.Lock()
	s.epoch++
	s.publishMu.Unlock()

	for _, dir := range []string{sessionsDir, tempDir} {
		if err := resetDir(filepath.Join(s.root, dir)); err != nil {
			return err
		}
	}
	return nil
}

// CleanupAll removes received, sent, thumbnail and temporary files. The
// metadata database lives under the same root and is kept.
func (s *Store) CleanupAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read transfer root: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == metadataDir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	for _, dir := range []string{sessionsDir, tempDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return err
		}
	}

	publish(ctx, s.events, sse.TopicBroadcast, EventStorageCleared, map[string]string{})
	return nil
}

// SweepTemp removes in-flight upload files untouched for longer than maxAge.
func (s *Store) SweepTemp(ctx context.Context, maxAge time.Duration) (int64, error) {
	dir := filepath.Join(s.root, tempDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-maxAge)
	s.pruneClosed(cutoff)

	var removed int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// pruneClosed forgets sessions closed before cutoff that have no sent
// upload in flight.
func (s *Store) pruneClosed(cutoff time.Time) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	for id, at := range s.closed {
		if at.Before(cutoff) && s.inflight[id] == 0 {
			delete(s.closed, id)
		}
	}
}

// beginSent registers a sent upload for sessionID and returns the storage
// epoch it started in.
func (s *Store) beginSent(sessionID string) (uint64, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if _, closed := s.closed[sessionID]; closed {
		return 0, apperrors.Unauthorized("Session is closed")
	}
	s.inflight[sessionID]++
	return s.epoch, nil
}

func (s *Store) endSent(sessionID string) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if s.inflight[sessionID] <= 1 {
		delete(s.inflight, sessionID)
		return
	}
	s.inflight[sessionID]--
}

// sentClosedLocked reports whether a sent upload begun at epoch may no
// longer publish into sessionID's buffer. Callers must hold publishMu.
func (s *Store) sentClosedLocked(sessionID string, epoch uint64) bool {
	if epoch != s.epoch {
		return true
	}
	_, closed := s.closed[sessionID]
	return closed
}

// WaitThumbnails blocks until pending thumbnail generation has finished.
func (s *Store) WaitThumbnails() {
	s.thumbs.Wait()
}

func (s *Store) publish(ctx context.Context, scope Scope, eventType string, data any) {
	topic := sse.TopicHost
	if scope.SessionID != "" {
		topic = sse.SessionTopic(scope.SessionID)
	}
	publish(ctx, s.events, topic, eventType, data)
}

func publish(ctx context.Context, events Publisher, topic, eventType string, data any) {
	if events == nil {
		return
	}
	event, err := sse.NewEvent(eventType, data)
	if err != nil {
		return
	}
	if err := events.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		log.Warn().Err(err).Str("type", eventType).Msg("failed to publish transfer event")
	}
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return os.MkdirAll(dir, 0o755)
}
