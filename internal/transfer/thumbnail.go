package transfer

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/turbotransfer/host/internal/config"
)

func (s *Store) generateThumbnailAsync(src, device, name string) {
	s.thumbs.Add(1)
	go func() {
		defer s.thumbs.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("filename", name).Msg("thumbnail generation panicked")
			}
		}()

		if err := writeThumbnail(src, s.thumbnailFile(device, name), config.ThumbnailMaxDimension); err != nil {
			log.Warn().Err(err).Str("filename", name).Msg("thumbnail generation failed")
			return
		}
		log.Debug().Str("filename", name).Str("device", device).Msg("thumbnail generated")
	}()
}

var errImageTooLarge = errors.New("image dimensions exceed thumbnail limit")

func writeThumbnail(src, dst string, maxDim int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// the header is checked first; decoding allocates for the declared size
	cfg, _, err := image.DecodeConfig(in)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > config.ThumbnailMaxSourcePixels {
		return fmt.Errorf("%w: %dx%d", errImageTooLarge, cfg.Width, cfg.Height)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return err
	}

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	bounds := img.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), maxDim)
	thumb := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, bounds, draw.Over, nil)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + partSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(out, thumb); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// fitWithin scales w x h down to fit a maxDim square, keeping the aspect
// ratio. Images already small enough keep their size.
func fitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return max(w, 1), max(h, 1)
	}
	if w >= h {
		return maxDim, max(h*maxDim/w, 1)
	}
	return max(w*maxDim/h, 1), maxDim
}
