// Package media stores uploaded team avatars and partner logos as scaled PNGs.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// MaxUploadBytes caps how much of an upload is read
const MaxUploadBytes = 8 << 20

// MaxPixels caps the decoded size of an upload; the header is checked before decoding
const MaxPixels = 50_000_000

// PublicPrefix is where the router serves stored files
const PublicPrefix = "/uploads/"

var (
	ErrTooLarge      = errors.New("upload too large")
	ErrInvalidImage  = errors.New("not a PNG, JPEG or GIF image")
	ErrTooManyPixels = errors.New("image dimensions too large")
)

// Thumbnail decodes an image and scales it to fit within maxSize on both sides,
// keeping the aspect ratio, then encodes it as PNG. Smaller images are not enlarged.
func Thumbnail(r io.Reader, maxSize int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrTooLarge
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), maxSize)
	if w != bounds.Dx() || h != bounds.Dy() {
		// Catmull-Rom keeps logos and text sharp when downscaling
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fitWithin(w, h, maxSize int) (int, int) {
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return w, h
	}
	if w >= h {
		return maxSize, max(1, h*maxSize/w)
	}
	return max(1, w*maxSize/h), maxSize
}

// Store writes thumbnails to a directory served under PublicPrefix
type Store struct {
	dir     string
	maxSize int
}

// NewStore creates the upload directory if needed
func NewStore(dir string, maxSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &Store{dir: dir, maxSize: maxSize}, nil
}

// Dir returns the directory files are written to
func (s *Store) Dir() string {
	return s.dir
}

// Save scales the image and stores it under a random name, returning its public URL
func (s *Store) Save(r io.Reader) (string, error) {
	data, err := Thumbnail(r, s.maxSize)
	if err != nil {
		return "", err
	}

	name := uuid.NewString() + ".png"
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return PublicPrefix + name, nil
}

// Delete removes a previously saved file by its public URL; unknown URLs are ignored
func (s *Store) Delete(publicURL string) error {
	name := filepath.Base(publicURL)
	if publicURL != PublicPrefix+name || filepath.Ext(name) != ".png" {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
