package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/pkg/logger"
)

// DirectDownloadClient 在本进程内用 HTTP GET 拉取文件到本地目录
type DirectDownloadClient struct {
	dir  string
	http *http.Client

	mu        sync.Mutex
	downloads map[string]*directDownload
}

type directDownload struct {
	path   string
	total  atomic.Int64
	done   atomic.Int64
	state  atomic.Value // gateway.DownloadState
	err    atomic.Value // string
	cancel context.CancelFunc
}

func NewDirectDownloadClient(dir string) *DirectDownloadClient {
	return &DirectDownloadClient{
		dir:       dir,
		http:      &http.Client{},
		downloads: make(map[string]*directDownload),
	}
}

func (c *DirectDownloadClient) Start(ctx context.Context, payload map[string]interface{}) (string, error) {
	raw, _ := payload["url"].(string)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", failure.Permanentf("unsupported download url %q", raw)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	handle := uuid.NewString()
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	d := &directDownload{path: filepath.Join(c.dir, handle+"_"+name)}
	d.state.Store(gateway.DownloadQueued)
	d.err.Store("")

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	c.mu.Lock()
	c.downloads[handle] = d
	c.mu.Unlock()

	go c.fetch(runCtx, handle, u.String(), d)
	return handle, nil
}

func (c *DirectDownloadClient) fetch(ctx context.Context, handle, src string, d *directDownload) {
	defer d.cancel()
	d.state.Store(gateway.DownloadDownloading)
	if err := c.copyTo(ctx, src, d); err != nil {
		logger.Warnf("direct download failed handle=%s url=%s error=%v", handle, src, err)
		_ = os.Remove(d.path)
		d.err.Store(err.Error())
		d.state.Store(gateway.DownloadFailed)
		return
	}
	d.state.Store(gateway.DownloadCompleted)
}

func (c *DirectDownloadClient) copyTo(ctx context.Context, src string, d *directDownload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	d.total.Store(resp.ContentLength)

	f, err := os.Create(d.path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, &countingReader{r: resp.Body, n: &d.done})
	return err
}

func (c *DirectDownloadClient) get(handle string) (*directDownload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.downloads[handle]
	if !ok {
		// 进程重启后句柄丢失，重新领取时会重新下载
		return nil, failure.Transient(fmt.Errorf("unknown download handle %s", handle))
	}
	return d, nil
}

func (c *DirectDownloadClient) Status(ctx context.Context, handle string) (gateway.DownloadStatus, error) {
	d, err := c.get(handle)
	if err != nil {
		return gateway.DownloadStatus{}, err
	}
	return gateway.DownloadStatus{
		State:      d.state.Load().(gateway.DownloadState),
		BytesDone:  d.done.Load(),
		BytesTotal: d.total.Load(),
		Message:    d.err.Load().(string),
	}, nil
}

func (c *DirectDownloadClient) Result(ctx context.Context, handle string) (string, error) {
	d, err := c.get(handle)
	if err != nil {
		return "", err
	}
	switch d.state.Load().(gateway.DownloadState) {
	case gateway.DownloadCompleted:
		c.mu.Lock()
		delete(c.downloads, handle)
		c.mu.Unlock()
		return d.path, nil
	case gateway.DownloadFailed:
		return "", failure.Transient(errors.New(d.err.Load().(string)))
	default:
		return "", failure.Transient(fmt.Errorf("download %s is still running", handle))
	}
}

// Abort 停止全部进行中的下载
func (c *DirectDownloadClient) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.downloads {
		d.cancel()
	}
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n.Add(int64(n))
	return n, err
}
