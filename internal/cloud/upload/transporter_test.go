package upload

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type capturedPut struct {
	method        string
	body          []byte
	contentLength int64
	headers       nethttp.Header
}

func newCaptureServer(t *testing.T, status int, etag string, respBody string) (*httptest.Server, func() []capturedPut) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedPut
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, capturedPut{method: r.Method, body: body, contentLength: r.ContentLength, headers: r.Header.Clone()})
		mu.Unlock()
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedPut(nil), got...)
	}
}

func TestHTTPTransporterSendsExactRange(t *testing.T) {
	srv, got := newCaptureServer(t, nethttp.StatusOK, `"9b2cf535f27731c974343645a3985328"`, "")
	file := newMemFile("data.bin", 100)
	tr := NewHTTPTransporter(srv.Client())

	token, err := tr.TransferPart(context.Background(), PartRequest{
		Number:     2,
		URL:        srv.URL + "/obj?partNumber=2",
		Source:     file,
		SourceSize: file.Size(),
		Offset:     40,
		Length:     30,
		Headers:    map[string]string{"x-amz-tagging": "dv-state=temp"},
	})
	if err != nil {
		t.Fatalf("TransferPart: %v", err)
	}
	if token != `"9b2cf535f27731c974343645a3985328"` {
		t.Errorf("token = %q", token)
	}

	puts := got()
	if len(puts) != 1 {
		t.Fatalf("expected 1 request, got %d", len(puts))
	}
	req := puts[0]
	if req.method != nethttp.MethodPut {
		t.Errorf("method = %s, want PUT", req.method)
	}
	want := make([]byte, 30)
	if _, err := file.ReadAt(want, 40); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, req.body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if req.contentLength != 30 {
		t.Errorf("Content-Length = %d, want 30", req.contentLength)
	}
	if req.headers.Get("x-amz-tagging") != "dv-state=temp" {
		t.Errorf("missing destination header: %v", req.headers)
	}
	if req.headers.Get("User-Agent") == "" {
		t.Error("missing User-Agent")
	}
}

func TestHTTPTransporterEmptyPart(t *testing.T) {
	srv, got := newCaptureServer(t, nethttp.StatusCreated, "", "")
	tr := NewHTTPTransporter(srv.Client())

	token, err := tr.TransferPart(context.Background(), PartRequest{
		Number: 1, URL: srv.URL, Source: newMemFile("empty", 0),
	})
	if err != nil {
		t.Fatalf("TransferPart: %v", err)
	}
	if token != "" {
		t.Errorf("token = %q, want empty", token)
	}
	if puts := got(); len(puts) != 1 || len(puts[0].body) != 0 {
		t.Errorf("expected one empty PUT, got %+v", puts)
	}
}

func TestHTTPTransporterStatusError(t *testing.T) {
	srv, _ := newCaptureServer(t, nethttp.StatusForbidden, "", "<Error><Code>SignatureDoesNotMatch</Code></Error>\n")
	tr := NewHTTPTransporter(srv.Client())
	file := newMemFile("f", 10)

	_, err := tr.TransferPart(context.Background(), PartRequest{
		Number: 1, URL: srv.URL, Source: file, SourceSize: 10, Length: 10,
	})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != nethttp.StatusForbidden {
		t.Errorf("Code = %d", se.Code)
	}
	if se.Body != "<Error><Code>SignatureDoesNotMatch</Code></Error>" {
		t.Errorf("Body = %q", se.Body)
	}
}

func TestHTTPTransporterRejectsOverRead(t *testing.T) {
	srv, got := newCaptureServer(t, nethttp.StatusOK, "e", "")
	tr := NewHTTPTransporter(srv.Client())

	tests := []PartRequest{
		{Number: 3, URL: srv.URL, SourceSize: 25, Offset: 20, Length: 10},
		{Number: 1, URL: srv.URL, SourceSize: 25, Offset: -1, Length: 5},
		{Number: 1, URL: srv.URL, SourceSize: 25, Offset: 0, Length: -1},
	}
	for _, pr := range tests {
		pr.Source = newMemFile("f", 25)
		if _, err := tr.TransferPart(context.Background(), pr); !errors.Is(err, ErrRangeOutOfBounds) {
			t.Errorf("%+v: expected ErrRangeOutOfBounds, got %v", pr, err)
		}
	}
	if n := len(got()); n != 0 {
		t.Errorf("no request may be sent, got %d", n)
	}
}

func TestHTTPTransporterCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	tr := NewHTTPTransporter(srv.Client())
	start := time.Now()
	_, err := tr.TransferPart(ctx, PartRequest{
		Number: 1, URL: srv.URL, Source: newMemFile("f", 10), SourceSize: 10, Length: 10,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}
