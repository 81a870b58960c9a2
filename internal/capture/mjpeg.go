package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/facesentry/facesentry/internal/media"
)

// mjpegReadBufferCap bounds buffered stream data while hunting for frame
// markers (8 MiB, far above any single camera frame).
const mjpegReadBufferCap = 8 << 20

// MJPEGSource reads frames from an HTTP MJPEG stream, the common output of
// IP cameras. Both multipart/x-mixed-replace and raw concatenated JPEG
// streams are supported.
type MJPEGSource struct {
	resp   *http.Response
	parts  *multipart.Reader // nil for raw streams
	raw    *bufio.Reader
	buffer []byte
}

// OpenMJPEG connects to an MJPEG stream URL.
func OpenMJPEG(ctx context.Context, url string) (*MJPEGSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}

	client := &http.Client{Timeout: 0} // streaming, no overall deadline
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	src := &MJPEGSource{resp: resp}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/x-mixed-replace" && params["boundary"] != "" {
		src.parts = multipart.NewReader(resp.Body, params["boundary"])
	} else {
		src.raw = bufio.NewReaderSize(resp.Body, 64<<10)
	}
	return src, nil
}

// Read returns the next decoded frame.
func (s *MJPEGSource) Read(ctx context.Context) (image.Image, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := s.nextJPEG()
		if err != nil {
			return nil, err
		}
		img, err := media.Decode(data)
		if err != nil {
			// Torn frame mid-stream; try the next one.
			continue
		}
		return img, nil
	}
	return nil, fmt.Errorf("no decodable frame within deadline")
}

func (s *MJPEGSource) nextJPEG() ([]byte, error) {
	if s.parts != nil {
		part, err := s.parts.NextPart()
		if err != nil {
			return nil, fmt.Errorf("read stream part: %w", err)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("read frame body: %w", err)
		}
		return data, nil
	}
	return s.nextRawJPEG()
}

// nextRawJPEG scans the raw stream for the next SOI..EOI byte range.
func (s *MJPEGSource) nextRawJPEG() ([]byte, error) {
	chunk := make([]byte, 32<<10)
	for {
		if frame, rest, ok := cutJPEG(s.buffer); ok {
			s.buffer = rest
			return frame, nil
		}
		if len(s.buffer) > mjpegReadBufferCap {
			s.buffer = nil
			return nil, fmt.Errorf("no frame markers in %d buffered bytes", mjpegReadBufferCap)
		}

		n, err := s.raw.Read(chunk)
		if n > 0 {
			s.buffer = append(s.buffer, chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}
}

// cutJPEG extracts the first complete JPEG from buf, returning the frame,
// the remaining bytes, and whether a frame was found.
func cutJPEG(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(buf, []byte{0xFF, 0xD8, 0xFF})
	if start < 0 {
		return nil, buf, false
	}
	end := bytes.Index(buf[start:], []byte{0xFF, 0xD9})
	if end < 0 {
		return nil, buf, false
	}
	end += start + 2
	return buf[start:end], buf[end:], true
}

// Close terminates the stream connection.
func (s *MJPEGSource) Close() error {
	return s.resp.Body.Close()
}
