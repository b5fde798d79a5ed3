package capture

import (
	"bytes"
	"testing"

	"github.com/medlink-labs/consultkit/pkg/domain"
)

func TestJPEGEncoder_ProducesJPEG(t *testing.T) {
	width, height := 64, 48
	frame := make([]byte, width*height*3/2)
	for i := range frame {
		frame[i] = byte(i % 251)
	}

	encoder := NewJPEGEncoder(width, height, 85)
	out, err := encoder.Encode(frame, domain.CapturePeriodic)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if !bytes.HasPrefix(out, []byte{0xff, 0xd8}) {
		t.Error("output missing JPEG SOI marker")
	}
}

func TestJPEGEncoder_RejectsShortFrame(t *testing.T) {
	encoder := NewJPEGEncoder(64, 48, 85)

	if _, err := encoder.Encode([]byte{1, 2, 3}, domain.CapturePeriodic); err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestRawEncoder_Passthrough(t *testing.T) {
	in := []byte{5, 6, 7}
	out, err := RawEncoder{}.Encode(in, domain.CaptureOnDemand)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("raw encoder modified the payload")
	}
}
