package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"
	"os"

	"github.com/disintegration/imaging"
)

// Photo is an encoded image ready to attach to a report.
type Photo struct {
	Data        []byte
	ContentType string
	Width       int // Dimensions after processing
	Height      int
}

// Camera captures a photo.
type Camera interface {
	Capture(ctx context.Context) (Photo, error)
}

// =============================================================================
// Photo Processing
// =============================================================================

const (
	// MaxPhotoDimension bounds the width and height of an attached photo.
	MaxPhotoDimension = 1600

	// PhotoJPEGQuality is the JPEG quality photos are re-encoded with.
	PhotoJPEGQuality = 85
)

// PhotoProcessor downsizes and re-encodes images so a queued report stays
// small enough for the relay's body limit.
type PhotoProcessor struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// NewPhotoProcessor returns a processor with the default bounds.
func NewPhotoProcessor() *PhotoProcessor {
	return &PhotoProcessor{
		MaxWidth:  MaxPhotoDimension,
		MaxHeight: MaxPhotoDimension,
		Quality:   PhotoJPEGQuality,
	}
}

// Process decodes an image in any registered format and returns it as a
// JPEG fitting within the processor's bounds. The aspect ratio is kept and
// smaller images are not enlarged.
func (p *PhotoProcessor) Process(r io.Reader) (Photo, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Photo{}, fmt.Errorf("failed to decode image: %w", err)
	}

	fitted := imaging.Fit(img, p.MaxWidth, p.MaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
		return Photo{}, fmt.Errorf("failed to encode photo: %w", err)
	}

	b := fitted.Bounds()
	return Photo{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// =============================================================================
// File Camera
// =============================================================================

// FileCamera "captures" an existing image file, the headless stand-in for a
// device camera.
type FileCamera struct {
	Path      string
	Processor *PhotoProcessor
}

// Capture implements Camera.
func (c FileCamera) Capture(ctx context.Context) (Photo, error) {
	if err := ctx.Err(); err != nil {
		return Photo{}, err
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return Photo{}, fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	proc := c.Processor
	if proc == nil {
		proc = NewPhotoProcessor()
	}
	return proc.Process(f)
}

var _ Camera = FileCamera{}
