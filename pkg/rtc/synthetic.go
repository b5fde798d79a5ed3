package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

// SyntheticCamera produces generated YUV420 frames at a fixed rate. It stands
// in for a physical camera on platforms without capture hardware and in the
// local development loop.
type SyntheticCamera struct {
	Width  int
	Height int
	FPS    int

	mu     sync.Mutex
	facing CameraFacing
	opened bool
	closed bool
	frame  uint64
	ticker *time.Ticker
}

// NewSyntheticCamera creates a synthetic camera source.
func NewSyntheticCamera(width, height, fps int) *SyntheticCamera {
	return &SyntheticCamera{Width: width, Height: height, FPS: fps}
}

// Open implements CameraSource.
func (c *SyntheticCamera) Open(facing CameraFacing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}
	c.facing = facing
	c.opened = true
	c.closed = false
	c.ticker = time.NewTicker(time.Second / time.Duration(c.FPS))
	return nil
}

// ReadSample produces the next generated frame, paced at the configured rate.
func (c *SyntheticCamera) ReadSample() (media.Sample, error) {
	c.mu.Lock()
	if !c.opened || c.closed {
		c.mu.Unlock()
		return media.Sample{}, ErrTrackClosed
	}
	ticker := c.ticker
	c.mu.Unlock()

	<-ticker.C

	c.mu.Lock()
	c.frame++
	frame := c.frame
	facing := c.facing
	c.mu.Unlock()

	// YUV420: luma plane plus quarter-size chroma planes
	size := c.Width * c.Height * 3 / 2
	data := make([]byte, size)

	// Moving gradient; the back camera renders inverted so switches are
	// visible downstream.
	shift := byte(frame % 256)
	for i := 0; i < c.Width*c.Height; i++ {
		v := byte(i%256) + shift
		if facing == FacingBack {
			v = 255 - v
		}
		data[i] = v
	}
	for i := c.Width * c.Height; i < size; i++ {
		data[i] = 128
	}

	return media.Sample{
		Data:     data,
		Duration: time.Second / time.Duration(c.FPS),
	}, nil
}

// Switch implements CameraSource.
func (c *SyntheticCamera) Switch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.facing == FacingFront {
		c.facing = FacingBack
	} else {
		c.facing = FacingFront
	}
	return nil
}

// Facing returns the current camera facing.
func (c *SyntheticCamera) Facing() CameraFacing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// Close implements CameraSource.
func (c *SyntheticCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.opened = false
	if c.ticker != nil {
		c.ticker.Stop()
	}
	return nil
}

// SyntheticMicrophone produces 20ms silence frames.
type SyntheticMicrophone struct {
	mu     sync.Mutex
	opened bool
	closed bool
	ticker *time.Ticker
}

// NewSyntheticMicrophone creates a synthetic microphone source.
func NewSyntheticMicrophone() *SyntheticMicrophone {
	return &SyntheticMicrophone{}
}

// Open implements AudioSource.
func (m *SyntheticMicrophone) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return nil
	}
	m.opened = true
	m.closed = false
	m.ticker = time.NewTicker(20 * time.Millisecond)
	return nil
}

// ReadSample produces the next silence frame.
func (m *SyntheticMicrophone) ReadSample() (media.Sample, error) {
	m.mu.Lock()
	if !m.opened || m.closed {
		m.mu.Unlock()
		return media.Sample{}, ErrTrackClosed
	}
	ticker := m.ticker
	m.mu.Unlock()

	<-ticker.C

	// Opus silence frame
	return media.Sample{
		Data:     []byte{0xf8, 0xff, 0xfe},
		Duration: 20 * time.Millisecond,
	}, nil
}

// Close implements AudioSource.
func (m *SyntheticMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.opened = false
	if m.ticker != nil {
		m.ticker.Stop()
	}
	return nil
}
