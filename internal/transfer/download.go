package transfer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
)

// DownloadInfo describes a resolved download before any bytes are written.
type DownloadInfo struct {
	Name        string
	ContentType string
	Size        int64 // -1 when streamed as an archive
	File        model.StoredFile
}

// Download writes the named file to w. Directories are sent as zip
// archives. before runs once the file is resolved and may set headers.
func (s *Store) Download(ctx context.Context, scope Scope, name string, w io.Writer, before func(DownloadInfo)) error {
	path, file, err := s.resolve(scope, name)
	if err != nil {
		return err
	}

	d := DownloadInfo{Name: file.Name, ContentType: "application/octet-stream", Size: file.Size, File: file}
	if file.IsDir {
		d.Name, d.ContentType, d.Size = file.Name+".zip", "application/zip", -1
	}
	if before != nil {
		before(d)
	}

	if file.IsDir {
		zw := zip.NewWriter(w)
		err = addDir(ctx, zw, path, file.Name)
		if closeErr := zw.Close(); err == nil {
			err = closeErr
		}
	} else {
		err = copyFile(ctx, w, path)
	}

	s.recordDownload(ctx, scope, file, err)
	if err != nil {
		return apperrors.TransferFailed(err)
	}
	return nil
}

// BatchDownload writes a zip archive of every resolvable name; the rest are
// skipped. It fails only when nothing resolves.
func (s *Store) BatchDownload(ctx context.Context, scope Scope, names []string, w io.Writer, before func(count int)) error {
	type item struct {
		path string
		file model.StoredFile
	}

	seen := make(map[string]bool)
	items := make([]item, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		path, file, err := s.resolve(scope, name)
		if err != nil {
			continue
		}
		items = append(items, item{path: path, file: file})
	}
	if len(items) == 0 {
		return apperrors.NotFound("File")
	}

	if before != nil {
		before(len(items))
	}

	zw := zip.NewWriter(w)
	var err error
	for _, it := range items {
		if it.file.IsDir {
			err = addDir(ctx, zw, it.path, it.file.Name)
		} else {
			err = addFile(ctx, zw, it.path, it.file.Name)
		}
		s.recordDownload(ctx, scope, it.file, err)
		if err != nil {
			break
		}
	}
	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return apperrors.TransferFailed(err)
	}
	return nil
}

func (s *Store) recordDownload(ctx context.Context, scope Scope, file model.StoredFile, err error) {
	entry := model.AnalyticsEntry{
		Timestamp: s.now(),
		Device:    scope.DeviceName,
		Filename:  file.Name,
		Size:      file.Size,
		Direction: file.Direction,
		Status:    model.TransferStatusSuccess,
	}
	if err != nil {
		entry.Status = model.TransferStatusFailed
		log.Warn().Err(err).Str("filename", file.Name).Msg("download failed")
	}
	s.record(ctx, entry)
}

func copyFile(ctx context.Context, w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, &contextReader{ctx: ctx, r: f})
	return err
}

func addFile(ctx context.Context, zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(name)
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	return copyFile(ctx, dst, path)
}

func addDir(ctx context.Context, zw *zip.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if err := addFile(ctx, zw, path, filepath.Join(prefix, rel)); err != nil {
			return fmt.Errorf("add %s: %w", rel, err)
		}
		return nil
	})
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
