package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/turbotransfer/host/internal/errors"
)

const (
	maxNameLength     = 255
	unknownDeviceName = "Unknown Device"
)

// ValidateFilename rejects names that could resolve outside the directory
// they are joined to, or that would collide with hidden bookkeeping entries.
func ValidateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return apperrors.PathTraversal(name)
	case len(name) > maxNameLength:
		return apperrors.PathTraversal(name)
	case strings.ContainsAny(name, "/\\\x00"):
		return apperrors.PathTraversal(name)
	case strings.HasPrefix(name, "."):
		return apperrors.PathTraversal(name)
	case filepath.Base(name) != name:
		return apperrors.PathTraversal(name)
	}
	return nil
}

// DeviceDirName maps a free-form device label to a single safe path element.
func DeviceDirName(device string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, device)
	cleaned = strings.TrimLeft(strings.TrimSpace(cleaned), ".")
	if cleaned == "" {
		return unknownDeviceName
	}
	if len(cleaned) > maxNameLength {
		cleaned = cleaned[:maxNameLength]
	}
	return cleaned
}

// availableName returns name if it is free in dir, otherwise the first free
// "base (n).ext" variant. Callers must hold the publish lock.
func availableName(dir, name string) (string, error) {
	if _, err := os.Lstat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name, nil
	} else if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		_, err := os.Lstat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, partSuffix)
}
