package imageenc

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fpang/ig-caption-studio/internal/metrics"
	"github.com/fpang/ig-caption-studio/internal/outcome"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestEncoder(opts Options) *Encoder {
	opts.Metrics = metrics.NewSink(metrics.Namespace, nil)
	return NewEncoder(opts)
}

func TestEncodeExactBytes(t *testing.T) {
	raw := testPNG(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(raw)
	}))
	defer server.Close()

	out := newTestEncoder(Options{}).Encode(context.Background(), server.URL+"/a.png")
	if !out.IsSuccess() {
		t.Fatalf("expected success, got %+v", out)
	}
	p := out.Value
	if p.Data != base64.StdEncoding.EncodeToString(raw) {
		t.Error("payload must be the exact bytes, base64-encoded")
	}
	if strings.HasPrefix(p.Data, "data:") {
		t.Error("payload must not carry a data: prefix")
	}
	if p.MIMEType != "image/png" {
		t.Errorf("expected image/png from the bytes, got %s", p.MIMEType)
	}
	if p.Size != len(raw) || p.Width != 4 || p.Height != 3 {
		t.Errorf("unexpected payload metadata: %+v", p)
	}
	if p.SourceURL != server.URL+"/a.png" {
		t.Errorf("unexpected source: %s", p.SourceURL)
	}
}

func TestEncodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		opts    Options
		want    outcome.ErrorKind
	}{
		{
			name:    "cdn denial",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
			want:    outcome.KindFetchBlocked,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    outcome.KindFetchBlocked,
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			want:    outcome.KindFetchBlocked,
		},
		{
			name:    "not an image",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>login required</html>")) },
			want:    outcome.KindFetchBlocked,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write(bytes.Repeat([]byte{0xff}, 64))
			},
			opts: Options{MaxBytes: 16},
			want: outcome.KindFetchBlocked,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			opts: Options{Timeout: 20 * time.Millisecond},
			want: outcome.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			out := newTestEncoder(tt.opts).Encode(context.Background(), server.URL)
			if !out.IsFailure() {
				t.Fatalf("expected failure, got %+v", out)
			}
			if out.ErrorKind != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, out.ErrorKind, out.Message)
			}
			if out.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestEncodeUnreachableIsFetchBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	out := newTestEncoder(Options{}).Encode(context.Background(), url)
	if out.ErrorKind != outcome.KindFetchBlocked {
		t.Errorf("expected FetchBlocked, got %s", out.ErrorKind)
	}
}

func TestEncodeDataURL(t *testing.T) {
	raw := testPNG(t)
	encoded := base64.StdEncoding.EncodeToString(raw)

	out := newTestEncoder(Options{}).Encode(context.Background(), "data:image/png;base64,"+encoded)
	if !out.IsSuccess() {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Value.Data != encoded {
		t.Error("expected the data URL body without its prefix")
	}

	bad := newTestEncoder(Options{}).Encode(context.Background(), "data:text/plain,hello")
	if bad.ErrorKind != outcome.KindFetchBlocked {
		t.Errorf("expected FetchBlocked for non-base64 data URL, got %+v", bad)
	}
}

func TestEncodeEmptyURL(t *testing.T) {
	out := newTestEncoder(Options{}).Encode(context.Background(), " ")
	if out.ErrorKind != outcome.KindFetchBlocked {
		t.Errorf("expected FetchBlocked, got %+v", out)
	}
}

func TestStripDataURLPrefix(t *testing.T) {
	tests := map[string]string{
		"data:image/jpeg;base64,QUJD": "QUJD",
		"QUJD":                        "QUJD",
		"data:broken":                 "data:broken",
		"":                            "",
	}
	for in, want := range tests {
		if got := StripDataURLPrefix(in); got != want {
			t.Errorf("StripDataURLPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
