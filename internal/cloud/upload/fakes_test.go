package upload

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// memFile is an in-memory File.
type memFile struct {
	*bytes.Reader
	name string
}

func newMemFile(name string, size int) *memFile {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &memFile{Reader: bytes.NewReader(data), name: name}
}

func (m *memFile) Name() string { return m.name }

// transporterFunc adapts a function to PartTransporter and counts calls.
type transporterFunc struct {
	mu    sync.Mutex
	calls []PartRequest
	fn    func(ctx context.Context, req PartRequest) (string, error)
}

func newTransporter(fn func(ctx context.Context, req PartRequest) (string, error)) *transporterFunc {
	return &transporterFunc{fn: fn}
}

func okTransporter() *transporterFunc {
	return newTransporter(func(ctx context.Context, req PartRequest) (string, error) {
		return fmt.Sprintf("etag-%d", req.Number), nil
	})
}

func (t *transporterFunc) TransferPart(ctx context.Context, req PartRequest) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	t.mu.Unlock()
	return t.fn(ctx, req)
}

func (t *transporterFunc) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type fakeFinisher struct {
	mu          sync.Mutex
	aborts      int
	completes   int
	parts       []CompletedPart
	abortErr    error
	completeErr error
	abortCtxErr error
	// onComplete, when set, runs in place of returning completeErr.
	onComplete func(ctx context.Context) error
}

func (f *fakeFinisher) AbortMultipart(ctx context.Context, dest *Destination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	f.abortCtxErr = ctx.Err()
	return f.abortErr
}

func (f *fakeFinisher) CompleteMultipart(ctx context.Context, dest *Destination, parts []CompletedPart) error {
	f.mu.Lock()
	f.completes++
	f.parts = parts
	hook, err := f.onComplete, f.completeErr
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return err
}

func (f *fakeFinisher) counts() (aborts, completes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts, f.completes
}

type fakeIssuer struct {
	dest  *Destination
	err   error
	calls int
}

func (f *fakeIssuer) GetUploadDestination(ctx context.Context, targetID string, file File) (*Destination, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.dest, nil
}

type fakeRegistrar struct {
	single []FileDescriptor
	batch  [][]FileDescriptor
	err    error
}

func (f *fakeRegistrar) RegisterUploadedFile(ctx context.Context, targetID string, desc FileDescriptor) error {
	f.single = append(f.single, desc)
	return f.err
}

func (f *fakeRegistrar) RegisterUploadedFiles(ctx context.Context, targetID string, descs []FileDescriptor) error {
	f.batch = append(f.batch, descs)
	return f.err
}

// progressRecorder collects progress values and flags overlapping calls.
type progressRecorder struct {
	mu         sync.Mutex
	values     []int
	active     atomic.Int32
	overlapped atomic.Bool
}

func (p *progressRecorder) record(percent int) {
	if p.active.Add(1) != 1 {
		p.overlapped.Store(true)
	}
	defer p.active.Add(-1)

	p.mu.Lock()
	p.values = append(p.values, percent)
	p.mu.Unlock()
	runtime.Gosched()
}

func (p *progressRecorder) snapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func singleDest() *Destination {
	return &Destination{
		URLs:      []string{"https://store.example/single?sig=1"},
		StorageID: "s3://dv-bucket:18b3a1c2d4e-5f6a7b8c9d0e",
		PartSize:  1 << 20,
	}
}

func multiDest(parts int, partSize int64) *Destination {
	urls := make([]string, parts)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://store.example/obj?partNumber=%d&uploadId=u1", i+1)
	}
	return &Destination{
		URLs:             urls,
		StorageID:        "s3://dv-bucket:18b3a1c2d4e-multi",
		PartSize:         partSize,
		AbortEndpoint:    "/api/datasets/mpupload?uploadid=u1&storageidentifier=x",
		CompleteEndpoint: "/api/datasets/mpupload?uploadid=u1&storageidentifier=x",
	}
}
