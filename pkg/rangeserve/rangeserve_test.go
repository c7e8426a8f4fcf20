package rangeserve

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseRange(t *testing.T) {
	const size = 100

	cases := []struct {
		name    string
		header  string
		want    []httpRange
		wantErr error
	}{
		{"absent", "", nil, nil},
		{"noBytesPrefix", "items=0-10", nil, nil},
		{"malformedNoDash", "bytes=10", nil, nil},
		{"simple", "bytes=0-9", []httpRange{{0, 10}}, nil},
		{"openEnded", "bytes=50-", []httpRange{{50, 100}}, nil},
		{"suffix", "bytes=-10", []httpRange{{90, 100}}, nil},
		{"suffixLargerThanSize", "bytes=-1000", []httpRange{{0, 100}}, nil},
		{"endClampedToSize", "bytes=90-1000", []httpRange{{90, 100}}, nil},
		{"multiple", "bytes=0-9,20-29", []httpRange{{0, 10}, {20, 30}}, nil},
		{"unsatisfiableStart", "bytes=200-", nil, ErrUnsatisfiable},
		{"endBeforeStart", "bytes=10-5", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRange(tc.header, size)
			if err != tc.wantErr {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestIfRangeSatisfied(t *testing.T) {
	if !ifRangeSatisfied("", `"abc"`) {
		t.Fatalf("absent header must be satisfied")
	}
	if !ifRangeSatisfied(`"abc"`, `"abc"`) {
		t.Fatalf("matching etag must be satisfied")
	}
	if ifRangeSatisfied(`"abc"`, `"def"`) {
		t.Fatalf("mismatched etag must not be satisfied")
	}
}

type memSource struct {
	data []byte
	etag string
}

func (m *memSource) Size() int64            { return int64(len(m.data)) }
func (m *memSource) ETag() string           { return m.etag }
func (m *memSource) MimeType() string       { return "video/mp4" }
func (m *memSource) LastModified() time.Time { return time.Unix(1000, 0) }
func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.data[off:]), nil
}

func TestServeFileFullBody(t *testing.T) {
	src := &memSource{data: []byte("0123456789"), etag: `"v1"`}
	req := httptest.NewRequest(http.MethodGet, "/view.mp4", nil)
	rec := httptest.NewRecorder()

	ServeFile(rec, req, src)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected Accept-Ranges: bytes")
	}
}

func TestServeFileSingleRange(t *testing.T) {
	src := &memSource{data: []byte("0123456789"), etag: `"v1"`}
	req := httptest.NewRequest(http.MethodGet, "/view.mp4", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()

	ServeFile(rec, req, src)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.String() != "234" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Range") != "bytes 2-4/10" {
		t.Fatalf("unexpected Content-Range: %v", rec.Header().Get("Content-Range"))
	}
}

func TestServeFileUnsatisfiableRange(t *testing.T) {
	src := &memSource{data: []byte("0123456789"), etag: `"v1"`}
	req := httptest.NewRequest(http.MethodGet, "/view.mp4", nil)
	req.Header.Set("Range", "bytes=1000-")
	rec := httptest.NewRecorder()

	ServeFile(rec, req, src)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Range") != "bytes */10" {
		t.Fatalf("unexpected Content-Range: %v", rec.Header().Get("Content-Range"))
	}
}

func TestServeFileIfRangeMismatchServesFullBody(t *testing.T) {
	src := &memSource{data: []byte("0123456789"), etag: `"v1"`}
	req := httptest.NewRequest(http.MethodGet, "/view.mp4", nil)
	req.Header.Set("Range", "bytes=2-4")
	req.Header.Set("If-Range", `"stale"`)
	rec := httptest.NewRecorder()

	ServeFile(rec, req, src)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when If-Range mismatches, got %d", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestServeFileMultiRange(t *testing.T) {
	src := &memSource{data: []byte("0123456789"), etag: `"v1"`}
	req := httptest.NewRequest(http.MethodGet, "/view.mp4", nil)
	req.Header.Set("Range", "bytes=0-1,5-6")
	rec := httptest.NewRecorder()

	ServeFile(rec, req, src)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(rec.Header().Get("Content-Type"), "multipart/byteranges") {
		t.Fatalf("expected multipart/byteranges content type, got %v", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "01") || !strings.Contains(body, "56") {
		t.Fatalf("unexpected multipart body: %q", body)
	}
}
