package media

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestThumbnailScalesToFit(t *testing.T) {
	out, err := Thumbnail(bytes.NewReader(encodePNG(t, 1000, 500)), 200)
	require.NoError(t, err)
	w, h := decodedSize(t, out)
	assert.Equal(t, 200, w)
	assert.Equal(t, 100, h)

	out, err = Thumbnail(bytes.NewReader(encodePNG(t, 300, 900)), 300)
	require.NoError(t, err)
	w, h = decodedSize(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 300, h)
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	out, err := Thumbnail(bytes.NewReader(encodePNG(t, 64, 48)), 512)
	require.NoError(t, err)
	w, h := decodedSize(t, out)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
}

func TestThumbnailConvertsJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 40)), nil))

	out, err := Thumbnail(&buf, 20)
	require.NoError(t, err)
	w, _ := decodedSize(t, out)
	assert.Equal(t, 20, w)
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	_, err := Thumbnail(strings.NewReader("definitely not an image"), 100)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

// oversizedPNG is a valid 1x1 PNG whose header claims width x height
func oversizedPNG(t *testing.T, width, height uint32) []byte {
	t.Helper()
	data := encodePNG(t, 1, 1)
	// IHDR data follows the 8-byte signature, chunk length and type
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestThumbnailRejectsHugeDimensions(t *testing.T) {
	_, err := Thumbnail(bytes.NewReader(oversizedPNG(t, 40000, 40000)), 128)
	assert.ErrorIs(t, err, ErrTooManyPixels)

	store, err := NewStore(t.TempDir(), 128)
	require.NoError(t, err)
	_, err = store.Save(bytes.NewReader(oversizedPNG(t, 100000, 600)))
	assert.ErrorIs(t, err, ErrTooManyPixels)
}

func TestStoreSaveAndDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewStore(dir, 128)
	require.NoError(t, err)

	url, err := store.Save(bytes.NewReader(encodePNG(t, 256, 256)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, PublicPrefix))
	assert.True(t, strings.HasSuffix(url, ".png"))

	path := filepath.Join(dir, strings.TrimPrefix(url, PublicPrefix))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	w, _ := decodedSize(t, data)
	assert.Equal(t, 128, w)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, store.Delete(url))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Delete("https://cdn.example.com/logo.png"))
	assert.NoError(t, store.Delete(url), "deleting twice is fine")
}
