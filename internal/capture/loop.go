package capture

import (
	"context"
	"encoding/base64"
	"image"
	"sync"

	"github.com/rs/zerolog"

	"github.com/facesentry/facesentry/internal/detect"
	"github.com/facesentry/facesentry/internal/extract"
	"github.com/facesentry/facesentry/internal/livescan"
	"github.com/facesentry/facesentry/internal/media"
	"github.com/facesentry/facesentry/internal/recognition"
)

// FaceMatcher matches one embedding against the template store.
type FaceMatcher interface {
	Match(query []float32) (string, float64, recognition.Diagnostics)
}

// FaceExtractor produces embeddings for all faces in a frame.
type FaceExtractor interface {
	ExtractAll(ctx context.Context, imageData []byte) ([]extract.Result, error)
}

// Cycler is the live scan engine surface the loop drives.
type Cycler interface {
	Start() livescan.StateView
	Stop() livescan.StateView
	Cycle(ctx context.Context, input livescan.CycleInput) (livescan.StateView, error)
}

// SourceFactory opens the capture device when the loop starts.
type SourceFactory func(ctx context.Context) (FrameSource, error)

// Loop owns the background capture goroutine. Start and Stop are
// idempotent; repeated consecutive read failures stop the loop through the
// same cleanup path as an explicit stop.
type Loop struct {
	openSource      SourceFactory
	detector        detect.Detector
	extractor       FaceExtractor
	matcher         FaceMatcher
	engine          Cycler
	maxReadFailures int
	log             zerolog.Logger

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
	investigatorID string

	frameMu sync.RWMutex
	latest  []byte
	subs    map[chan []byte]struct{}
}

// NewLoop creates a stopped capture loop.
func NewLoop(openSource SourceFactory, detector detect.Detector, extractor FaceExtractor, matcher FaceMatcher, engine Cycler, maxReadFailures int, log zerolog.Logger) *Loop {
	if maxReadFailures < 1 {
		maxReadFailures = 1
	}
	return &Loop{
		openSource:      openSource,
		detector:        detector,
		extractor:       extractor,
		matcher:         matcher,
		engine:          engine,
		maxReadFailures: maxReadFailures,
		log:             log.With().Str("component", "capture").Logger(),
		subs:            make(map[chan []byte]struct{}),
	}
}

// Start opens the capture source and launches the loop. Starting a running
// loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	src, err := l.openSource(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.engine.Start()

	go l.run(runCtx, src)
	l.log.Info().Msg("capture loop started")
	return nil
}

// Stop signals the loop and waits for cleanup. Stopping a stopped loop is a
// no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// SetInvestigator attributes subsequent recognition and alert records to
// the given investigator. An empty ID clears the attribution.
func (l *Loop) SetInvestigator(id string) {
	l.mu.Lock()
	l.investigatorID = id
	l.mu.Unlock()
}

func (l *Loop) investigator() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.investigatorID
}

func (l *Loop) run(ctx context.Context, src FrameSource) {
	defer func() {
		src.Close()
		l.engine.Stop()

		l.mu.Lock()
		l.running = false
		l.cancel()
		close(l.done)
		l.mu.Unlock()

		l.log.Info().Msg("capture loop stopped")
	}()

	var prev image.Image
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			l.log.Warn().Err(err).Int("consecutive", failures).Msg("frame read failed")
			if failures >= l.maxReadFailures {
				l.log.Error().Msg("too many consecutive read failures, stopping capture")
				return
			}
			continue
		}
		failures = 0

		l.process(ctx, frame, prev)
		prev = frame
	}
}

// process runs one frame through the recognition pipeline and publishes the
// annotated result.
func (l *Loop) process(ctx context.Context, frame, prev image.Image) {
	encoded, err := media.EncodeJPEG(frame)
	if err != nil {
		l.log.Warn().Err(err).Msg("frame encode failed")
		return
	}

	var boxes []image.Rectangle
	var detections []livescan.Detection

	results, err := l.extractor.ExtractAll(ctx, encoded)
	if err != nil {
		// The embedding service is down; the local detector still
		// provides boxes so the stream keeps showing detections.
		boxes = l.detector.Detect(ctx, frame)
	} else {
		for _, res := range results {
			boxes = append(boxes, res.Box)
			label, confidence, _ := l.matcher.Match(res.Embedding)
			if label == recognition.UnknownLabel {
				continue
			}
			detections = append(detections, livescan.Detection{
				FaceLabel:  label,
				Confidence: confidence,
			})
		}
	}

	input := livescan.CycleInput{
		Detections:     detections,
		MotionScore:    MotionScore(prev, frame),
		HasMotion:      prev != nil,
		InvestigatorID: l.investigator(),
	}
	if len(detections) > 0 {
		input.SnapshotDataURL = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(encoded)
	}

	if _, err := l.engine.Cycle(ctx, input); err != nil {
		l.log.Warn().Err(err).Msg("recognition cycle failed")
	}

	annotated, err := media.EncodeJPEG(Annotate(frame, boxes))
	if err != nil {
		return
	}
	l.publish(annotated)
}

// publish stores the latest annotated frame and fans it out to stream
// subscribers. Slow subscribers miss frames instead of blocking the loop.
func (l *Loop) publish(frame []byte) {
	l.frameMu.Lock()
	l.latest = frame
	for ch := range l.subs {
		select {
		case ch <- frame:
		default:
		}
	}
	l.frameMu.Unlock()
}

// Latest returns the most recent annotated frame, or nil before the first
// frame.
func (l *Loop) Latest() []byte {
	l.frameMu.RLock()
	defer l.frameMu.RUnlock()
	return l.latest
}

// Subscribe registers a stream consumer. The returned cancel function must
// be called when the consumer disconnects.
func (l *Loop) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	l.frameMu.Lock()
	l.subs[ch] = struct{}{}
	l.frameMu.Unlock()

	return ch, func() {
		l.frameMu.Lock()
		delete(l.subs, ch)
		l.frameMu.Unlock()
	}
}
