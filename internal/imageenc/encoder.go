// Package imageenc retrieves a remote image and turns it into the base64
// payload sent to the inference model. The payload never carries a data:
// prefix.
package imageenc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	_ "image/gif"  // register GIF decoder for image.DecodeConfig
	_ "image/jpeg" // register JPEG decoder for image.DecodeConfig
	_ "image/png"  // register PNG decoder for image.DecodeConfig
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp" // register WebP decoder; Instagram's CDN serves WebP
)

const (
	// DefaultTimeout bounds one image retrieval.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxBytes is the largest image accepted (Gemini's inline data limit).
	DefaultMaxBytes int64 = 20 << 20

	// BlockedMessage is shown when the image cannot be retrieved.
	BlockedMessage = "Could not retrieve the image for AI analysis. The media link may have expired or the host refused the request; reload your posts and try again."
)

// Payload is an encoded image ready for inference.
type Payload struct {
	Data      string `json:"data"`
	MIMEType  string `json:"mimeType"`
	SourceURL string `json:"sourceUrl"`
	Size      int    `json:"size"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Options configures an Encoder.
type Options struct {
	Timeout    time.Duration
	MaxBytes   int64
	HTTPClient *http.Client
	Metrics    *metrics.Sink
}

// Encoder fetches and encodes images.
type Encoder struct {
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
	metrics    *metrics.Sink
}

// NewEncoder creates an Encoder.
func NewEncoder(opts Options) *Encoder {
	e := &Encoder{
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		maxBytes:   opts.MaxBytes,
		metrics:    opts.Metrics,
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{}
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.maxBytes <= 0 {
		e.maxBytes = DefaultMaxBytes
	}
	if e.metrics == nil {
		e.metrics = metrics.Default()
	}
	return e
}

// Encode retrieves url and returns its exact bytes base64-encoded together
// with the detected MIME type. Data URLs are decoded in place instead of
// fetched.
func (e *Encoder) Encode(ctx context.Context, url string) outcome.Outcome[Payload] {
	start := time.Now()
	p, err := e.encode(ctx, url)
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = string(outcome.KindOf(err))
		log.Warn().Err(err).Str("kind", result).Dur("duration", elapsed).Msg("Image encoding failed")
	} else {
		log.Debug().Str("mimeType", p.MIMEType).Int("size", p.Size).Dur("duration", elapsed).Msg("Image encoded")
	}

	rec := e.metrics.New().
		Dimension("Result", result).
		Metric("ImageEncodeMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds)
	if p != nil {
		rec.Metric("ImageBytes", float64(p.Size), metrics.UnitBytes)
	}
	rec.Flush()

	if err != nil {
		return outcome.Failure[Payload](err)
	}
	return outcome.Success(*p)
}

func (e *Encoder) encode(ctx context.Context, url string) (*Payload, error) {
	if strings.TrimSpace(url) == "" {
		return nil, outcome.New(outcome.KindFetchBlocked, "This post has no image to analyze.")
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(url, "data:") {
		data, err = decodeDataURL(url)
	} else {
		data, err = e.fetch(ctx, url)
	}
	if err != nil {
		return nil, err
	}

	return e.build(data, url)
}

// fetch retrieves the image bytes, bounded by the timeout and size limit.
func (e *Encoder) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, outcome.Wrap(outcome.KindFetchBlocked, "The image link is not a valid URL.", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, outcome.Newf(outcome.KindFetchBlocked,
				"The image host refused the request (status %d). Instagram media links expire; reload your posts and try again.", resp.StatusCode)
		}
		return nil, outcome.Newf(outcome.KindFetchBlocked, "Could not retrieve the image (status %d).", resp.StatusCode)
	}

	if resp.ContentLength > e.maxBytes {
		return nil, tooLarge(resp.ContentLength, e.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, tooLarge(int64(len(data)), e.maxBytes)
	}
	return data, nil
}

// build validates data as an image and produces the payload.
func (e *Encoder) build(data []byte, sourceURL string) (*Payload, error) {
	if len(data) == 0 {
		return nil, outcome.New(outcome.KindFetchBlocked, "The image host returned an empty response.")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, outcome.Wrap(outcome.KindFetchBlocked,
			"The retrieved file is not an image that can be analyzed (expected JPEG, PNG, GIF, or WebP).", err)
	}

	if strings.HasPrefix(sourceURL, "data:") {
		sourceURL = "data:"
	}
	return &Payload{
		Data:      base64.StdEncoding.EncodeToString(data),
		MIMEType:  "image/" + format,
		SourceURL: sourceURL,
		Size:      len(data),
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}

// StripDataURLPrefix removes a leading "data:<mime>;base64," header, if any.
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// decodeDataURL decodes a base64 data URL into raw bytes.
func decodeDataURL(s string) ([]byte, error) {
	header, _, ok := strings.Cut(s, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, outcome.New(outcome.KindFetchBlocked, "Only base64 data URLs can be analyzed.")
	}
	data, err := base64.StdEncoding.DecodeString(StripDataURLPrefix(s))
	if err != nil {
		return nil, outcome.Wrap(outcome.KindFetchBlocked, "The embedded image data is not valid base64.", err)
	}
	return data, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return outcome.Wrap(outcome.KindUnknown, "Image retrieval was cancelled.", err)
	}
	if oe := outcome.Classify(err, BlockedMessage); oe.Kind == outcome.KindTimeout {
		return oe
	}
	return outcome.Wrap(outcome.KindFetchBlocked, BlockedMessage, err)
}

func tooLarge(size, limit int64) error {
	return outcome.Newf(outcome.KindFetchBlocked,
		"The image is too large to analyze (%d bytes, limit %d bytes).", size, limit)
}
