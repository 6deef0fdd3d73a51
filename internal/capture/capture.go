// Package capture opens camera devices and network streams. Transport
// behavior is configured through an explicit options struct rather than
// process environment variables, so concurrent capture sessions cannot
// interfere with each other.
package capture

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"qc-detector/internal/frame"

	"gocv.io/x/gocv"
)

// Transport selects the RTSP transport protocol for network sources.
type Transport string

const (
	TransportAuto Transport = ""
	TransportTCP  Transport = "tcp"
	TransportUDP  Transport = "udp"
)

// TransportOptions describe a capture source. Source is a device index
// ("0", "1", ...) or a complete stream URL; when Source is empty the URL is
// built from the credential fields instead. Zero-valued tuning fields keep
// the backend defaults.
type TransportOptions struct {
	Source    string    `json:"source,omitempty"`
	Transport Transport `json:"transport,omitempty"`

	// URL parts, used when Source is empty:
	// protocol://[user:pass@]address[:port][path]
	Protocol string `json:"protocol,omitempty"`
	Address  string `json:"address,omitempty"`
	Port     int    `json:"port,omitempty"`
	Path     string `json:"path,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	BufferSize int     `json:"buffer_size,omitempty"`
}

// URL resolves the capture source: Source verbatim when set, otherwise the
// URL assembled from the parts. Empty when neither is configured.
func (o TransportOptions) URL() string {
	if o.Source != "" {
		return o.Source
	}
	if o.Address == "" {
		return ""
	}

	protocol := o.Protocol
	if protocol == "" {
		protocol = "rtsp"
	}
	auth := ""
	if o.Username != "" && o.Password != "" {
		auth = o.Username + ":" + o.Password + "@"
	}
	port := ""
	if o.Port > 0 {
		port = ":" + strconv.Itoa(o.Port)
	}
	path := o.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return protocol + "://" + auth + o.Address + port + path
}

// Capture wraps an open video source. Not safe for concurrent use; the
// acquisition goroutine owns it exclusively.
type Capture struct {
	cap    *gocv.VideoCapture
	source string
}

// Open connects to the configured source. RTSP sources with an explicit
// transport are opened through a GStreamer pipeline carrying the protocol
// selection; everything else goes through the default backend.
func Open(opts TransportOptions) (*Capture, error) {
	source := opts.URL()
	if source == "" {
		return nil, fmt.Errorf("no capture source configured")
	}

	var (
		cap *gocv.VideoCapture
		err error
	)
	switch {
	case isDeviceIndex(source):
		idx, _ := strconv.Atoi(source)
		cap, err = gocv.OpenVideoCapture(idx)
	case strings.HasPrefix(source, "rtsp://") && opts.Transport != TransportAuto:
		pipeline := fmt.Sprintf(
			"rtspsrc location=%s protocols=%s latency=0 ! decodebin ! videoconvert ! appsink",
			source, opts.Transport)
		cap, err = gocv.OpenVideoCaptureWithAPI(pipeline, gocv.VideoCaptureGstreamer)
	default:
		cap, err = gocv.OpenVideoCapture(source)
	}
	if err != nil {
		return nil, fmt.Errorf("opening capture source %q: %w", source, err)
	}

	if opts.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	}
	if opts.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}
	if opts.FPS > 0 {
		cap.Set(gocv.VideoCaptureFPS, opts.FPS)
	}
	if opts.BufferSize > 0 {
		cap.Set(gocv.VideoCaptureBufferSize, float64(opts.BufferSize))
	}

	// Credentials stay out of the log.
	display := opts
	display.Password = "****"
	log.Printf("[capture] opened %s (%dx%d)", display.URL(),
		int(cap.Get(gocv.VideoCaptureFrameWidth)),
		int(cap.Get(gocv.VideoCaptureFrameHeight)))

	return &Capture{cap: cap, source: source}, nil
}

// Read grabs the next frame. The returned Frame owns its buffer.
func (c *Capture) Read() (*frame.Frame, error) {
	mat := gocv.NewMat()
	if ok := c.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("reading frame from %s", c.source)
	}
	return frame.FromMat(mat, time.Now()), nil
}

// Close releases the capture device.
func (c *Capture) Close() error {
	return c.cap.Close()
}

// isDeviceIndex reports whether the source names a local device by number.
func isDeviceIndex(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
