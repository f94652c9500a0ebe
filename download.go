package dash_archiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"
	secChUa   = `"Chromium";v="136", "Google Chrome";v="136", "Not.A/Brand";v="99"`
)

// transfer tracks how many bytes have been downloaded, and how many are expected, across one or more concurrent
// requests. progressCallback is called with the lock held, so calls are serialized.
type transfer struct {
	mu               sync.Mutex
	expectedBytes    int64
	downloadedBytes  int64
	progressCallback func(downloaded int64, expected int64)
}

func (t *transfer) AddDownloadedBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.downloadedBytes += n
	t.notify()
}

func (t *transfer) AddExpectedBytes(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expectedBytes += n
	t.notify()
}

func (t *transfer) notify() {
	if t.progressCallback != nil {
		t.progressCallback(t.downloadedBytes, t.expectedBytes)
	}
}

// Write discards p but counts it as downloaded, so a transfer can be the last writer of an io.MultiWriter.
func (t *transfer) Write(p []byte) (n int, err error) {
	n = len(p)
	t.AddDownloadedBytes(int64(n))
	return n, nil
}

// get performs a GET request with the supplied headers, returning the whole (decoded) body. A non-2xx status is an
// error. If t is non-nil it is updated as the body is read.
func get(ctx context.Context, client *http.Client, url string, header http.Header, t *transfer) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = header.Clone()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	var w io.Writer = &buf
	if t != nil {
		t.AddExpectedBytes(resp.ContentLength)
		w = io.MultiWriter(&buf, t)
	}
	if _, err := io.Copy(w, &readerContext{ctx: ctx, r: body}); err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeBody undoes any Content-Encoding, for servers that ignore "accept-encoding: identity".
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzReader, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}
