// Package capture runs the background frame loop: read, detect, match,
// vote, cycle the state machine, and publish annotated frames to stream
// consumers.
package capture

import (
	"context"
	"image"
)

// FrameSource yields frames from a camera or stream. Read blocks until a
// frame is available or the context is cancelled. Sources are owned by the
// loop; Close releases the underlying device.
type FrameSource interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}
