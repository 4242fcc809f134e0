// Package httpfetch is the reference transport: it fetches the bundles of a
// group over HTTP into a content directory, resuming partial files with Range
// requests, and hands progress to the manager through a SnapshotPublisher.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/italolelis/downloadables/internal/logctx"
	"github.com/italolelis/downloadables/internal/telemetry"
	"github.com/italolelis/downloadables/internal/transport/httpfetch/progress"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	defaultResponseHeaderTimeout = 30 * time.Second
	progressLogInterval          = 10 * 1024 * 1024 // 10MB
)

// Client opens HTTP transfers for groups.
type Client struct {
	ctx         context.Context
	httpClient  *http.Client
	contentDir  string
	maxParallel int
	telemetry   *telemetry.Telemetry

	// Bundles can be shared between groups; one writer per path at a time.
	pathLocks sync.Map
}

var _ downloadables.Transport = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTelemetry records one transport request metric per bundle fetch.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(cl *Client) { cl.telemetry = tel }
}

// NewClient creates a transport writing into contentDir with at most
// maxParallel files of one group in flight. Transfers stop when ctx is done;
// the logger carried by ctx is used for transfer logs.
func NewClient(ctx context.Context, contentDir string, maxParallel int, opts ...Option) *Client {
	if maxParallel < 1 {
		maxParallel = 1
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = defaultResponseHeaderTimeout

	c := &Client{
		ctx:         ctx,
		httpClient:  &http.Client{Transport: otelhttp.NewTransport(base)},
		contentDir:  contentDir,
		maxParallel: maxParallel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Open implements downloadables.Transport.
func (c *Client) Open(g downloadables.Group) downloadables.Transfer {
	return &transfer{client: c, group: g}
}

// BundlePath returns where a bundle is stored inside the content directory.
func (c *Client) BundlePath(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", &ContentError{Bundle: name, Reason: "bundle name escapes the content directory"}
	}

	return filepath.Join(c.contentDir, name), nil
}

// transfer runs one attempt at a time. Every attempt publishes into its own
// publisher so that a cancelled attempt can never leak bytes or errors into
// the next one.
type transfer struct {
	client *Client
	group  downloadables.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	pub    atomic.Pointer[downloadables.SnapshotPublisher]
}

func (t *transfer) Start(from int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	ctx, cancel := context.WithCancel(t.client.ctx)
	t.cancel = cancel

	pub := &downloadables.SnapshotPublisher{}
	pub.Reset(from)
	t.pub.Store(pub)

	go t.run(ctx, pub)
}

func (t *transfer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *transfer) Snapshot() downloadables.Snapshot {
	pub := t.pub.Load()
	if pub == nil {
		return downloadables.Snapshot{}
	}

	return pub.Load()
}

func (t *transfer) run(ctx context.Context, pub *downloadables.SnapshotPublisher) {
	logger := logctx.LoggerFromContext(ctx).With("group_id", t.group.ID)
	ctx = logctx.WithLogger(ctx, logger)

	var done atomic.Int64

	have := make([]int64, len(t.group.Files))

	for i, f := range t.group.Files {
		path, err := t.client.BundlePath(f.Name)
		if err != nil {
			pub.Fail(err)

			return
		}

		have[i] = onDisk(path, f.Size)
		done.Add(have[i])
	}

	pub.Publish(done.Load())

	logger.DebugContext(ctx, "fetching group",
		"files", len(t.group.Files),
		"on_disk", humanize.Bytes(uint64(done.Load())),
		"total", humanize.Bytes(uint64(t.group.TotalBytes)),
	)

	wg, gctx := errgroup.WithContext(ctx)
	wg.SetLimit(t.client.maxParallel)

	for i, f := range t.group.Files {
		if f.Size > 0 && have[i] >= f.Size {
			continue
		}

		offset := have[i]

		wg.Go(func() error {
			return t.client.fetchFile(gctx, f, offset, func(n int64) {
				pub.AddReceived(n)
				pub.Publish(done.Add(n))
			})
		})
	}

	err := wg.Wait()

	if ctx.Err() != nil {
		logger.DebugContext(ctx, "group fetch stopped", "downloaded", humanize.Bytes(uint64(done.Load())))

		return
	}

	if err != nil {
		logger.WarnContext(ctx, "group fetch failed", "err", err)
		pub.Fail(err)

		return
	}

	pub.Publish(done.Load())
	logger.InfoContext(ctx, "group fetched", "total", humanize.Bytes(uint64(t.group.TotalBytes)))
}

// onDisk returns how many bytes of a bundle are already present, capped at
// its catalog size.
func onDisk(path string, size int64) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}

	return min(info.Size(), size)
}

// fetchFile downloads one bundle starting at offset. onRead receives byte
// deltas, negative when a server ignores the range and the file restarts.
func (c *Client) fetchFile(ctx context.Context, f downloadables.FileDescriptor, offset int64, onRead func(int64)) error {
	return c.telemetry.InstrumentTransportRequest(ctx, "get_bundle", func(ctx context.Context) error {
		return c.getBundle(ctx, f, offset, onRead)
	})
}

func (c *Client) getBundle(ctx context.Context, f downloadables.FileDescriptor, offset int64, onRead func(int64)) error {
	logger := logctx.LoggerFromContext(ctx).With("bundle", f.Name)

	targetPath, err := c.BundlePath(f.Name)
	if err != nil {
		return err
	}

	unlock := c.lockPath(targetPath)
	defer unlock()

	// Another group may have fetched this bundle while we waited.
	if cur := onDisk(targetPath, f.Size); cur != offset {
		onRead(cur - offset)
		offset = cur
	}

	if f.Size > 0 && offset >= f.Size {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return &ContentError{Bundle: f.Name, Reason: "invalid url", Err: err}
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Operation: "get_bundle", Bundle: f.Name, Message: err.Error(), Err: err}
	}

	defer resp.Body.Close()

	flag := os.O_CREATE | os.O_WRONLY

	switch resp.StatusCode {
	case http.StatusPartialContent:
		flag |= os.O_APPEND
	case http.StatusOK:
		flag |= os.O_TRUNC

		if offset > 0 {
			logger.DebugContext(ctx, "server ignored range, restarting bundle", "offset", offset)
			onRead(-offset)

			offset = 0
		}
	default:
		return &NetworkError{Operation: "get_bundle", Bundle: f.Name, StatusCode: resp.StatusCode, Message: resp.Status}
	}

	if err := ensureTargetDir(targetPath); err != nil {
		return err
	}

	out, err := os.OpenFile(targetPath, flag, filePerm)
	if err != nil {
		return &StorageError{Path: targetPath, Operation: "open", Err: err}
	}

	defer out.Close()

	want := f.Size - offset

	logger.DebugContext(ctx, "downloading bundle",
		"file_path", targetPath,
		"offset", offset,
		"remaining", humanize.Bytes(uint64(max(want, 0))),
	)

	written, err := writeFile(ctx, out, resp.Body, f, want, onRead)
	if err != nil {
		return err
	}

	if f.Size > 0 && written < want {
		return &NetworkError{
			Operation: "get_bundle",
			Bundle:    f.Name,
			Message:   fmt.Sprintf("short body: got %d of %d bytes", written, want),
			Err:       io.ErrUnexpectedEOF,
		}
	}

	logger.DebugContext(ctx, "downloaded and saved bundle", "target", targetPath)

	return nil
}

func (c *Client) lockPath(path string) func() {
	v, _ := c.pathLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock
}

func ensureTargetDir(targetPath string) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &StorageError{Path: dir, Operation: "mkdir", Err: err}
	}

	return nil
}

func writeFile(ctx context.Context, out *os.File, body io.Reader, f downloadables.FileDescriptor, want int64, onRead func(int64)) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if f.Size > 0 {
		body = io.LimitReader(body, want)
	}

	pr := progress.NewReader(body, want, progressLogInterval, onRead, func(written, total int64) {
		logger.DebugContext(ctx, "bundle progress",
			"bundle", f.Name,
			"downloaded", humanize.Bytes(uint64(written)),
			"total", humanize.Bytes(uint64(total)),
			"percent", humanize.FtoaWithDigits(float64(written)*100/float64(max(total, 1)), 2),
		)
	})

	written, err := io.Copy(&fileWriter{f: out}, pr)
	if err != nil {
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			return written, err
		}

		return written, &NetworkError{Operation: "get_bundle", Bundle: f.Name, Message: err.Error(), Err: err}
	}

	return written, nil
}

// fileWriter tags write failures as storage errors so they are not mistaken
// for network errors coming out of io.Copy.
type fileWriter struct {
	f *os.File
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &StorageError{Path: w.f.Name(), Operation: "write", Err: err}
	}

	return n, nil
}

// LogValue keeps the client readable in structured logs.
func (c *Client) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("content_dir", c.contentDir),
		slog.Int("max_parallel", c.maxParallel),
	)
}
