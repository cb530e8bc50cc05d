package frameio

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"

	"github.com/chmdznr/oss-asset-sync/internal/remote"
)

const (
	defaultChunkWorkers    = 5
	defaultMemoryThreshold = 3_000_000_000
)

type uploadOptions struct {
	workers         int
	memoryThreshold uint64
}

// availableMemory is swapped in tests.
var availableMemory = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// newTransferClient returns a client with its own connection pool. Transfers
// carry no overall timeout; the caller's context bounds them.
func newTransferClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// chunk is one byte range of a file bound to its pre-signed destination.
type chunk struct {
	index  int
	url    string
	offset int64
	size   int64
}

// planChunks splits total bytes evenly over the destinations; the last range
// may be short.
func planChunks(total int64, urls []string) []chunk {
	if len(urls) == 0 {
		return nil
	}
	n := int64(len(urls))
	per := (total + n - 1) / n

	chunks := make([]chunk, 0, len(urls))
	for i, u := range urls {
		off := int64(i) * per
		size := per
		if off+size > total {
			size = total - off
		}
		if size < 0 {
			size = 0
		}
		chunks = append(chunks, chunk{index: i, url: u, offset: off, size: size})
	}
	return chunks
}

// Upload PUTs every range of f to the placeholder's pre-signed URLs. Failed
// ranges are logged and left for whole-file verification to catch.
func (c *Client) Upload(ctx context.Context, a *remote.Asset, f *os.File) error {
	if len(a.UploadURLs) == 0 {
		if a.FileSize == 0 {
			return nil
		}
		return remote.SchemaError("asset "+a.ID, "upload_urls")
	}
	chunks := planChunks(a.FileSize, a.UploadURLs)

	workers := c.upload.workers
	if workers <= 0 {
		workers = defaultChunkWorkers
	}
	threshold := c.upload.memoryThreshold
	if threshold == 0 {
		threshold = defaultMemoryThreshold
	}
	avail, err := availableMemory()
	if err != nil || avail < threshold {
		c.log.Debug(ctx, "uploading ranges sequentially", "asset", a.ID, "available", avail)
		workers = 1
	}

	var failed atomic.Int32
	// One client per slot so each worker keeps its connection across ranges.
	clients := make(chan *http.Client, workers)
	for i := 0; i < workers; i++ {
		clients <- newTransferClient()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, ch := range chunks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			hc := <-clients
			defer func() { clients <- hc }()
			if err := putChunk(ctx, hc, f, a.FileType, ch); err != nil {
				failed.Add(1)
				c.log.Warn(ctx, "chunk upload failed", "asset", a.ID, "chunk", ch.index, "offset", ch.offset, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: upload %s: %w", remote.ErrConnectivity, a.ID, err)
	}
	if n := failed.Load(); n > 0 {
		c.log.Warn(ctx, "upload incomplete", "asset", a.ID, "failed_chunks", n, "chunks", len(chunks))
	}
	return nil
}

func putChunk(ctx context.Context, hc *http.Client, f *os.File, contentType string, ch chunk) error {
	body := io.NewSectionReader(f, ch.offset, ch.size)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ch.url, body)
	if err != nil {
		return err
	}
	req.ContentLength = ch.size
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	req.Header.Set("x-amz-acl", "private")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(resp.Status)
	}
	return nil
}

// Download fetches the original into folder under the asset name. The content
// is staged in a temporary file and renamed into place when complete.
func (c *Client) Download(ctx context.Context, a *remote.Asset, folder string, replace bool) error {
	if a.Original == "" {
		return remote.SchemaError("asset "+a.ID, "original")
	}
	dest := filepath.Join(folder, a.Name)
	if !replace {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s: %w", dest, remote.ErrExists)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Original, nil)
	if err != nil {
		return err
	}
	resp, err := newTransferClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", remote.ErrConnectivity, a.ID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(http.MethodGet, "original of "+a.ID, resp); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(folder, "."+a.Name+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: download %s: %v", remote.ErrConnectivity, a.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
