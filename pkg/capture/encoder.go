package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/medlink-labs/consultkit/pkg/domain"
)

// RawEncoder passes pre-encoded images through untouched.
type RawEncoder struct{}

// Encode implements FrameEncoder.
func (RawEncoder) Encode(img []byte, _ domain.CaptureType) ([]byte, error) {
	return img, nil
}

// JPEGEncoder compresses raw I420 frames of a fixed geometry to JPEG.
type JPEGEncoder struct {
	Width   int
	Height  int
	Quality int
}

// NewJPEGEncoder creates a JPEG frame encoder.
func NewJPEGEncoder(width, height, quality int) *JPEGEncoder {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &JPEGEncoder{Width: width, Height: height, Quality: quality}
}

// Encode implements FrameEncoder.
func (e *JPEGEncoder) Encode(frame []byte, _ domain.CaptureType) ([]byte, error) {
	lumaSize := e.Width * e.Height
	chromaSize := lumaSize / 4
	if len(frame) < lumaSize+2*chromaSize {
		return nil, fmt.Errorf("frame too short: got %d bytes, need %d", len(frame), lumaSize+2*chromaSize)
	}

	img := &image.YCbCr{
		Y:              frame[:lumaSize],
		Cb:             frame[lumaSize : lumaSize+chromaSize],
		Cr:             frame[lumaSize+chromaSize : lumaSize+2*chromaSize],
		YStride:        e.Width,
		CStride:        e.Width / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, e.Width, e.Height),
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
