// Package analysis runs the per-post analysis pipeline: pick the image to
// analyze, encode it, ask the model for a caption, hashtags and vibe, and
// publish the result unless a newer request has superseded it.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/ig-caption-studio/internal/chat"
	"github.com/fpang/ig-caption-studio/internal/imageenc"
	"github.com/fpang/ig-caption-studio/internal/instagram"
	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
)

// Phase is the state of the pipeline slot.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseEncoding  Phase = "encoding"
	PhaseInferring Phase = "inferring"
	PhaseSuccess   Phase = "success"
	PhaseFailed    Phase = "failed"
)

// ErrInvalidTransition is returned by Retry and Regenerate when the slot is
// not in the phase they start from.
var ErrInvalidTransition = errors.New("invalid analysis transition")

// NoThumbnailMessage is the failure message for videos without a thumbnail.
const NoThumbnailMessage = "This video has no thumbnail to analyze."

// Encoder turns an image URL into an inference payload.
type Encoder interface {
	Encode(ctx context.Context, url string) outcome.Outcome[imageenc.Payload]
}

// Snapshot is a point-in-time view of the pipeline slot.
type Snapshot struct {
	Phase      Phase                                `json:"phase"`
	MediaID    string                               `json:"mediaId,omitempty"`
	SourceURL  string                               `json:"sourceUrl,omitempty"`
	Generation uint64                               `json:"generation"`
	Result     outcome.Outcome[chat.AnalysisResult] `json:"result"`
}

// SourceURL picks the image to analyze. Videos use their thumbnail since
// the media URL is not a still image; a video without one cannot be
// analyzed.
func SourceURL(item instagram.MediaItem) (string, error) {
	if item.MediaType == instagram.MediaVideo {
		if !item.HasThumbnail() {
			return "", outcome.Wrap(outcome.KindFetchBlocked, NoThumbnailMessage,
				fmt.Errorf("video %s has no thumbnail", item.ID))
		}
		return item.ThumbnailURL, nil
	}
	return item.MediaURL, nil
}

// Pipeline owns the single analysis slot of a UI session. Every Select,
// Retry, Regenerate and Close advances a generation counter; a run only
// publishes its result while its captured generation is still current.
type Pipeline struct {
	encoder  Encoder
	analyzer chat.Analyzer
	metrics  *metrics.Sink

	mu         sync.Mutex
	generation uint64
	phase      Phase
	item       *instagram.MediaItem
	source     string
	result     outcome.Outcome[chat.AnalysisResult]
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewPipeline creates an idle pipeline.
func NewPipeline(encoder Encoder, analyzer chat.Analyzer) *Pipeline {
	return &Pipeline{
		encoder:  encoder,
		analyzer: analyzer,
		metrics:  metrics.Default(),
		phase:    PhaseIdle,
	}
}

// WithMetrics sets the metrics sink.
func (p *Pipeline) WithMetrics(sink *metrics.Sink) *Pipeline {
	p.metrics = sink
	return p
}

// Select starts analysis of item, discarding whatever the slot held.
// The run outlives ctx's cancellation but keeps its values.
func (p *Pipeline) Select(ctx context.Context, item instagram.MediaItem) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.item = &item
	p.startLocked(ctx)
	return p.snapshotLocked()
}

// Retry restarts a failed run from the beginning.
func (p *Pipeline) Retry(ctx context.Context) (Snapshot, error) {
	return p.restart(ctx, PhaseFailed)
}

// Regenerate discards a successful result and runs the item again.
func (p *Pipeline) Regenerate(ctx context.Context) (Snapshot, error) {
	return p.restart(ctx, PhaseSuccess)
}

func (p *Pipeline) restart(ctx context.Context, from Phase) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.item == nil || p.phase != from {
		return p.snapshotLocked(), fmt.Errorf("%w: cannot restart from %s", ErrInvalidTransition, p.phase)
	}
	p.startLocked(ctx)
	return p.snapshotLocked(), nil
}

// Close returns the slot to Idle. Any in-flight run is abandoned.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.stopLocked()
	p.phase = PhaseIdle
	p.item = nil
	p.source = ""
	p.result = outcome.Outcome[chat.AnalysisResult]{}
	p.done = nil
}

// Snapshot returns the current slot state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Wait blocks until the current run settles or ctx is done, then returns
// the slot state.
func (p *Pipeline) Wait(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return p.Snapshot(), ctx.Err()
		}
	}
	return p.Snapshot(), nil
}

func (p *Pipeline) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:      p.phase,
		SourceURL:  p.source,
		Generation: p.generation,
		Result:     p.result,
	}
	if p.item != nil {
		s.MediaID = p.item.ID
	}
	return s
}

func (p *Pipeline) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// startLocked begins a fresh run of p.item. The previous result is cleared
// before the new run is scheduled. An item with no analyzable image fails
// without entering Encoding.
func (p *Pipeline) startLocked(ctx context.Context) {
	p.generation++
	p.stopLocked()

	done := make(chan struct{})
	p.done = done
	p.result = outcome.Pending[chat.AnalysisResult]()

	source, err := SourceURL(*p.item)
	if err != nil {
		p.phase = PhaseFailed
		p.source = ""
		p.result = outcome.Failure[chat.AnalysisResult](err)
		close(done)
		log.Warn().Err(err).Str("mediaId", p.item.ID).Msg("Post cannot be analyzed")
		p.record(string(outcome.KindOf(err)), 0)
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.phase = PhaseEncoding
	p.source = source

	log.Debug().
		Str("mediaId", p.item.ID).
		Str("sourceUrl", source).
		Uint64("generation", p.generation).
		Msg("Analysis started")
	go p.run(runCtx, cancel, done, p.generation, *p.item, source)
}

func (p *Pipeline) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, gen uint64, item instagram.MediaItem, source string) {
	defer close(done)
	defer cancel()
	start := time.Now()

	out := p.analyze(ctx, gen, item, source)
	p.settle(gen, item.ID, out, time.Since(start))
}

func (p *Pipeline) analyze(ctx context.Context, gen uint64, item instagram.MediaItem, source string) outcome.Outcome[chat.AnalysisResult] {
	encoded := p.encoder.Encode(ctx, source)
	if !encoded.IsSuccess() || encoded.Value == nil {
		err := encoded.Err()
		if err == nil {
			err = outcome.New(outcome.KindUnknown, "Image encoding did not complete.")
		}
		return outcome.Failure[chat.AnalysisResult](err)
	}
	if !p.advance(gen, PhaseInferring) {
		return outcome.Pending[chat.AnalysisResult]()
	}

	result, err := p.analyzer.Analyze(ctx, *encoded.Value, item.Caption)
	if err != nil {
		return outcome.Failure[chat.AnalysisResult](err)
	}
	if result == nil {
		return outcome.Failure[chat.AnalysisResult](outcome.New(outcome.KindMalformedResult, chat.EmptyResponseMessage))
	}
	return outcome.Success(*result)
}

// advance moves a current run to phase. It reports false for a stale run.
func (p *Pipeline) advance(gen uint64, phase Phase) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return false
	}
	p.phase = phase
	return true
}

// settle publishes out if gen is still current and drops it otherwise.
func (p *Pipeline) settle(gen uint64, mediaID string, out outcome.Outcome[chat.AnalysisResult], elapsed time.Duration) {
	p.mu.Lock()
	stale := gen != p.generation
	if !stale {
		p.result = out
		if out.IsSuccess() {
			p.phase = PhaseSuccess
		} else {
			p.phase = PhaseFailed
		}
	}
	p.mu.Unlock()

	result := "success"
	switch {
	case stale:
		result = "stale"
		log.Debug().
			Str("mediaId", mediaID).
			Uint64("generation", gen).
			Msg("Discarding superseded analysis result")
	case out.IsFailure():
		result = string(out.ErrorKind)
		log.Warn().
			Str("mediaId", mediaID).
			Str("errorKind", string(out.ErrorKind)).
			Str("message", out.Message).
			Dur("duration", elapsed).
			Msg("Analysis failed")
	default:
		log.Info().
			Str("mediaId", mediaID).
			Dur("duration", elapsed).
			Msg("Analysis complete")
	}

	p.record(result, elapsed)
}

func (p *Pipeline) record(result string, elapsed time.Duration) {
	p.metrics.New().
		Dimension("Result", result).
		Metric("AnalysisMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("AnalysisResult").
		Flush()
}
