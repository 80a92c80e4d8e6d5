package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/http"
	"github.com/iqss/dataverse-int/internal/ratelimit"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Key    string
	Body   string
	Header nethttp.Header
}

type fakeDataverse struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w nethttp.ResponseWriter, r *nethttp.Request)
}

func newFakeDataverse(t *testing.T) (*fakeDataverse, *httptest.Server) {
	t.Helper()
	f := &fakeDataverse{routes: make(map[string]func(nethttp.ResponseWriter, *nethttp.Request))}
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Key:    r.Header.Get("X-Dataverse-key"),
			Body:   string(body),
			Header: r.Header.Clone(),
		})
		h, ok := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(nethttp.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":"ERROR","message":"API endpoint does not exist on this server."}`)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeDataverse) handle(route string, h func(w nethttp.ResponseWriter, r *nethttp.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = h
}

func (f *fakeDataverse) reply(route string, status int, body string) {
	f.handle(route, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeDataverse) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	cfg := config.New()
	cfg.ServerURL = serverURL + "/"
	cfg.APIKey = "xxxxxxxx-api-token"
	c, err := NewClient(cfg, WithRetryMax(0), WithRateLimiter(ratelimit.NewRateLimiter(1000, 1000)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

type sizedFile struct {
	name string
	size int64
}

func (s sizedFile) Name() string                            { return s.name }
func (s sizedFile) Size() int64                             { return s.size }
func (s sizedFile) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }

func TestNewClientRejectsEmptyServerURL(t *testing.T) {
	cfg := config.New()
	cfg.APIKey = "k"
	_, err := NewClient(cfg)
	if !errors.Is(err, config.ErrMissingServerURL) {
		t.Fatalf("NewClient() error = %v, want ErrMissingServerURL", err)
	}
}

func TestNewClientAcceptsValidServerURL(t *testing.T) {
	cfg := config.New()
	cfg.ServerURL = "https://demo.dataverse.org/"
	cfg.APIKey = "k"
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.BaseURL() != "https://demo.dataverse.org" {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}
}

func TestGetCurrentUser(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("GET /api/users/:me", 200, `{"status":"OK","data":{"id":7,"identifier":"@alice","displayName":"Alice Smith","email":"alice@example.edu","superuser":false}}`)

	c := newTestClient(t, srv.URL)
	user, err := c.GetCurrentUser(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentUser: %v", err)
	}
	if user.Identifier != "@alice" || user.ID != 7 {
		t.Errorf("unexpected user %+v", user)
	}
	req := f.last()
	if req.Key != "xxxxxxxx-api-token" {
		t.Errorf("X-Dataverse-key = %q", req.Key)
	}
	if !strings.HasPrefix(req.Header.Get("User-Agent"), "dataverse-int/") {
		t.Errorf("User-Agent = %q", req.Header.Get("User-Agent"))
	}
}

func TestGetCurrentUserBadToken(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("GET /api/users/:me", 401, `{"status":"ERROR","message":"Bad api key "}`)

	c := newTestClient(t, srv.URL)
	_, err := c.GetCurrentUser(context.Background())

	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if ae.HTTPStatus != 401 || ae.Message != "Bad api key " {
		t.Errorf("unexpected error %+v", ae)
	}
	if http.ClassifyError(err) != http.ErrorTypeCredential {
		t.Errorf("401 should classify as credential error")
	}
}

func TestGetServerVersion(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("GET /api/info/version", 200, `{"status":"OK","data":{"version":"6.3","build":"1234-abc"}}`)

	c := newTestClient(t, srv.URL)
	v, err := c.GetServerVersion(context.Background())
	if err != nil {
		t.Fatalf("GetServerVersion: %v", err)
	}
	if v.Version != "6.3" {
		t.Errorf("version = %q", v.Version)
	}
}

func TestEnvelopeErrorWithOKStatus(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("GET /api/users/:me", 200, `{"status":"ERROR","message":"something odd"}`)

	c := newTestClient(t, srv.URL)
	_, err := c.GetCurrentUser(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) || ae.Message != "something odd" {
		t.Errorf("expected envelope error, got %v", err)
	}
}

func TestThrottledResponseSetsCooldown(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.handle("GET /api/users/:me", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(nethttp.StatusTooManyRequests)
	})

	cfg := config.New()
	cfg.ServerURL = srv.URL
	rl := ratelimit.NewRateLimiter(1000, 1000)
	c, err := NewClient(cfg, WithRetryMax(0), WithRateLimiter(rl))
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.GetCurrentUser(context.Background())
	if !http.IsTransient(err) {
		t.Errorf("429 should be transient: %v", err)
	}
	if rl.CooldownRemaining() <= 0 {
		t.Error("expected a cooldown after Retry-After")
	}
}

func TestThrottleWithoutRetryAfterDrainsBucket(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.handle("GET /api/users/:me", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusTooManyRequests)
	})

	cfg := config.New()
	cfg.ServerURL = srv.URL
	rl := ratelimit.NewRateLimiter(1, 10)
	c, err := NewClient(cfg, WithRetryMax(0), WithRateLimiter(rl))
	if err != nil {
		t.Fatal(err)
	}

	_, _ = c.GetCurrentUser(context.Background())
	if tokens := rl.GetCurrentTokens(); tokens > 0.5 {
		t.Errorf("tokens after unannounced throttle = %.2f, want ~0", tokens)
	}
}

func TestCallCountsStripQuery(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("GET /api/users/:me", 200, `{"status":"OK","data":{"id":1}}`)

	c := newTestClient(t, srv.URL)
	for i := 0; i < 2; i++ {
		if _, err := c.GetCurrentUser(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff(map[string]int64{"GET /api/users/:me": 2}, c.CallCounts()); diff != "" {
		t.Errorf("call counts (-want +got):\n%s", diff)
	}
}

func TestIsFileExistsError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{Op: "register file", HTTPStatus: 400, Message: "Invalid file: This file already exists in the dataset."}, true},
		{&APIError{Op: "register files", HTTPStatus: 400, Message: "duplicate file"}, true},
		{&APIError{Op: "register file", HTTPStatus: 400, Message: "Dataset is locked"}, false},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := IsFileExistsError(tt.err); got != tt.want {
			t.Errorf("IsFileExistsError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if !errors.Is(&APIError{Message: "already exists"}, ErrFileAlreadyExists) {
		t.Error("errors.Is should match ErrFileAlreadyExists")
	}
}

func TestIsNotFound(t *testing.T) {
	_, srv := newFakeDataverse(t)
	c := newTestClient(t, srv.URL)
	_, err := c.GetCurrentUser(context.Background())
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

// multipartResponse is a realistic uploadurls response for a 3-part upload.
const multipartResponse = `{"status":"OK","data":{
  "urls":{"2":"https://s3.example/b/k?partNumber=2&uploadId=U","1":"https://s3.example/b/k?partNumber=1&uploadId=U","3":"https://s3.example/b/k?partNumber=3&uploadId=U"},
  "abort":"/api/datasets/mpupload?uploadid=U&storageidentifier=s3://b:k",
  "complete":"/api/datasets/mpupload?uploadid=U&storageidentifier=s3://b:k",
  "partSize":5242880,
  "storageIdentifier":"s3://b:k"}}`

func TestGetUploadDestinationMultipart(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("GET /api/datasets/42/uploadurls", 200, multipartResponse)

	c := newTestClient(t, srv.URL)
	dest, err := c.GetUploadDestination(context.Background(), "42", sizedFile{"big.nc", 12 << 20})
	if err != nil {
		t.Fatalf("GetUploadDestination: %v", err)
	}

	if q := f.last().Query; q != "size=12582912" {
		t.Errorf("query = %q", q)
	}
	want := &upload.Destination{
		URLs: []string{
			"https://s3.example/b/k?partNumber=1&uploadId=U",
			"https://s3.example/b/k?partNumber=2&uploadId=U",
			"https://s3.example/b/k?partNumber=3&uploadId=U",
		},
		StorageID:        "s3://b:k",
		PartSize:         5242880,
		AbortEndpoint:    srv.URL + "/api/datasets/mpupload?uploadid=U&storageidentifier=s3://b:k",
		CompleteEndpoint: srv.URL + "/api/datasets/mpupload?uploadid=U&storageidentifier=s3://b:k",
	}
	if diff := cmp.Diff(want, dest); diff != "" {
		t.Errorf("destination mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUploadDestinationSinglePartTagging(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		storageID string
		wantTag   bool
	}{
		{"signed tagging", "https://s3.example/b/k?X-Amz-SignedHeaders=host%3Bx-amz-tagging&X-Amz-Signature=abc", "s3://b:k", true},
		{"unsigned tagging", "https://s3.example/b/k?X-Amz-SignedHeaders=host&X-Amz-Signature=abc", "s3://b:k", false},
		{"non s3 store", "https://swift.example/obj", "swift://c:k", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeDataverse(t)
			payload, _ := json.Marshal(map[string]interface{}{
				"status": "OK",
				"data":   map[string]interface{}{"url": tt.url, "partSize": 1073741824, "storageIdentifier": tt.storageID},
			})
			f.reply("GET /api/datasets/42/uploadurls", 200, string(payload))

			c := newTestClient(t, srv.URL)
			dest, err := c.GetUploadDestination(context.Background(), "42", sizedFile{"a.csv", 100})
			if err != nil {
				t.Fatalf("GetUploadDestination: %v", err)
			}
			if dest.IsMultipart() {
				t.Fatal("expected single part")
			}
			_, tagged := dest.Headers["x-amz-tagging"]
			if tagged != tt.wantTag {
				t.Errorf("tag header present = %v, want %v", tagged, tt.wantTag)
			}
		})
	}
}

func TestGetUploadDestinationPersistentID(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("GET /api/datasets/:persistentId/uploadurls", 200,
		`{"status":"OK","data":{"url":"https://s3.example/b/k","partSize":1073741824,"storageIdentifier":"s3://b:k"}}`)

	c := newTestClient(t, srv.URL)
	if _, err := c.GetUploadDestination(context.Background(), "doi:10.5072/FK2/ABCDEF", sizedFile{"a", 1}); err != nil {
		t.Fatalf("GetUploadDestination: %v", err)
	}
	if q := f.last().Query; q != "persistentId=doi%3A10.5072%2FFK2%2FABCDEF&size=1" {
		t.Errorf("query = %q", q)
	}
}

func TestGetUploadDestinationErrors(t *testing.T) {
	t.Run("server refuses", func(t *testing.T) {
		f, srv := newFakeDataverse(t)
		f.reply("GET /api/datasets/42/uploadurls", 400, `{"status":"ERROR","message":"Direct upload not supported for files in this dataset: 42"}`)
		c := newTestClient(t, srv.URL)
		_, err := c.GetUploadDestination(context.Background(), "42", sizedFile{"a", 1})
		var ae *APIError
		if !errors.As(err, &ae) || ae.HTTPStatus != 400 {
			t.Fatalf("expected 400 APIError, got %v", err)
		}
	})
	t.Run("malformed payload", func(t *testing.T) {
		f, srv := newFakeDataverse(t)
		f.reply("GET /api/datasets/42/uploadurls", 200, `{"status":"OK","data":{"urls":{"1":"a","3":"c"},"partSize":5,"storageIdentifier":"s","abort":"/x","complete":"/y"}}`)
		c := newTestClient(t, srv.URL)
		_, err := c.GetUploadDestination(context.Background(), "42", sizedFile{"a", 10})
		if !errors.Is(err, upload.ErrInvalidDestination) {
			t.Fatalf("expected ErrInvalidDestination, got %v", err)
		}
	})
}

func TestAbortMultipart(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("DELETE /api/datasets/mpupload", 204, "")

	c := newTestClient(t, srv.URL)
	dest := &upload.Destination{AbortEndpoint: srv.URL + "/api/datasets/mpupload?uploadid=U&storageidentifier=s3://b:k"}
	if err := c.AbortMultipart(context.Background(), dest); err != nil {
		t.Fatalf("AbortMultipart: %v", err)
	}
	req := f.last()
	if req.Method != nethttp.MethodDelete || req.Query != "uploadid=U&storageidentifier=s3://b:k" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestAbortMultipartFailure(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("DELETE /api/datasets/mpupload", 500, `{"status":"ERROR","message":"Error aborting upload"}`)

	c := newTestClient(t, srv.URL)
	err := c.AbortMultipart(context.Background(), &upload.Destination{AbortEndpoint: "/api/datasets/mpupload?uploadid=U"})
	if !http.IsTransient(err) {
		t.Errorf("500 should be transient, got %v", err)
	}
}

func TestCompleteMultipart(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("PUT /api/datasets/mpupload", 200, `{"status":"OK","data":{"message":"Uploaded"}}`)

	c := newTestClient(t, srv.URL)
	dest := &upload.Destination{CompleteEndpoint: "/api/datasets/mpupload?uploadid=U"}
	parts := []upload.CompletedPart{{Number: 1, Token: `"e1"`}, {Number: 2, Token: `"e2"`}}
	if err := c.CompleteMultipart(context.Background(), dest, parts); err != nil {
		t.Fatalf("CompleteMultipart: %v", err)
	}

	req := f.last()
	if req.Method != nethttp.MethodPut {
		t.Errorf("method = %s", req.Method)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(req.Body), &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"1": `"e1"`, "2": `"e2"`}, got); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}
