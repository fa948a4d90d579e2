package device

import (
	"bytes"
	"context"
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

	"github.com/pathlabs/trackmate/internal/domain"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPhotoProcessor_Process(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{name: "landscape is bounded by width", width: 400, height: 200, wantW: 100, wantH: 50},
		{name: "portrait is bounded by height", width: 200, height: 400, wantW: 50, wantH: 100},
		{name: "small image is not enlarged", width: 60, height: 40, wantW: 60, wantH: 40},
	}

	p := &PhotoProcessor{MaxWidth: 100, MaxHeight: 100, Quality: PhotoJPEGQuality}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			photo, err := p.Process(bytes.NewReader(encodePNG(t, tt.width, tt.height)))
			require.NoError(t, err)
			assert.Equal(t, "image/jpeg", photo.ContentType)
			assert.Equal(t, tt.wantW, photo.Width)
			assert.Equal(t, tt.wantH, photo.Height)

			decoded, err := jpeg.Decode(bytes.NewReader(photo.Data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, decoded.Bounds().Dx())
		})
	}
}

func TestPhotoProcessor_RejectsNonImage(t *testing.T) {
	_, err := NewPhotoProcessor().Process(strings.NewReader("not an image"))
	assert.Error(t, err)
}

func TestFileCamera_Capture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, 32, 16), 0o644))

	photo, err := FileCamera{Path: path}.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, photo.Width)

	_, err = FileCamera{Path: filepath.Join(t.TempDir(), "missing.jpg")}.Capture(context.Background())
	assert.Error(t, err)
}

func TestStaticLocator(t *testing.T) {
	ctx := context.Background()

	_, err := StaticLocator{}.CurrentPosition(ctx)
	assert.ErrorIs(t, err, ErrPositionUnavailable)

	fix := domain.Coordinates{Latitude: -31.95, Longitude: 115.86}
	got, err := StaticLocator{Fix: &fix}.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, fix, got)

	bad := domain.Coordinates{Latitude: 120}
	_, err = StaticLocator{Fix: &bad}.CurrentPosition(ctx)
	assert.ErrorIs(t, err, ErrPositionUnavailable)
}
