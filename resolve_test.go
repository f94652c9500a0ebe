package dash_archiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const scenarioPage = `<html><head><meta charset="utf-8"></head><body>` +
	`<h1 title="My Clip" class="video-title">My Clip</h1>` +
	`<script>window.__playinfo__={"data":{"dash":{"audio":[{"bandwidth":64000,"baseUrl":"a1"},{"bandwidth":128000,"baseUrl":"a2"}],"video":[{"bandwidth":500000,"baseUrl":"v1"}]}}}</script>` +
	`<script>window.__INITIAL_STATE__={}</script></body></html>`

func playInfoPage(title string, audio []StreamRepresentation, video []StreamRepresentation) string {
	info := map[string]interface{}{
		"code": 0,
		"data": map[string]interface{}{
			"dash": map[string]interface{}{
				"audio": audio,
				"video": video,
			},
		},
	}
	data, err := json.Marshal(info)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf(`<div title="%s"></div><script>window.__playinfo__=%s</script>`, title, data)
}

// pageServer serves body at every path, recording the headers of each request.
type pageServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []*http.Request
}

func newPageServer(t *testing.T, handler http.HandlerFunc) *pageServer {
	s := &pageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(context.Background()))
		s.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *pageServer) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

func staticPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func TestResolveScenario(t *testing.T) {
	assert := assert_.New(t)
	srv := newPageServer(t, staticPage(scenarioPage))

	media := NewResolver(nil).Resolve(context.Background(), srv.URL+"/video?bvid=X&p=1")
	assert.Equal("My Clip", media.Title.Unwrap())
	assert.Equal("a2", media.AudioURL.Unwrap())
	assert.Equal("v1", media.VideoURL.Unwrap())
	assert.False(media.IsZero())

	assert.Equal(srv.URL+"/video?bvid=X", media.Header.Get("Referer"))
	assert.Equal("identity", media.Header.Get("Accept-Encoding"))

	requests := srv.Requests()
	if assert.Len(requests, 1) {
		req := requests[0]
		assert.Equal("/video", req.URL.Path)
		assert.Equal(srv.URL+"/video?bvid=X", req.Header.Get("Referer"))
		assert.Equal("identity", req.Header.Get("Accept-Encoding"))
		assert.Contains(req.Header.Get("User-Agent"), "Chrome/136.0.0.0")
		assert.Contains(req.Header.Get("Sec-Ch-Ua"), `"Chromium";v="136"`)
	}
}

func TestRequestHeaderReferer(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("https://example.com/video?bvid=X", RequestHeader("https://example.com/video?bvid=X&p=1").Get("Referer"))
	assert.Equal("https://example.com/video?bvid=X", RequestHeader("https://example.com/video?bvid=X").Get("Referer"))
	assert.Equal("https://example.com/video", RequestHeader("https://example.com/video&a=1&b=2").Get("Referer"))
}

func TestSelectBest(t *testing.T) {
	assert := assert_.New(t)

	assert.True(SelectBest(nil).IsNone())
	assert.True(SelectBest([]StreamRepresentation{}).IsNone())
	assert.True(SelectBest([]StreamRepresentation{{Bandwidth: 0, BaseURL: "zero"}}).IsNone())

	best := SelectBest([]StreamRepresentation{
		{Bandwidth: 100, BaseURL: "low"},
		{Bandwidth: 300, BaseURL: "first-max"},
		{Bandwidth: 200, BaseURL: "mid"},
		{Bandwidth: 300, BaseURL: "second-max"},
	})
	assert.Equal("first-max", best.Unwrap().BaseURL)
	assert.Equal(int64(300), best.Unwrap().Bandwidth)

	best = SelectBest([]StreamRepresentation{{Bandwidth: 7, BaseURL: "only"}})
	assert.Equal("only", best.Unwrap().BaseURL)
}

func TestResolveStableMaxAcrossLists(t *testing.T) {
	assert := assert_.New(t)
	page := playInfoPage("Ties",
		[]StreamRepresentation{{64000, "a-first"}, {64000, "a-second"}},
		[]StreamRepresentation{{1000, "v-low"}, {9000, "v-first"}, {9000, "v-second"}},
	)
	srv := newPageServer(t, staticPage(page))

	media := NewResolver(nil).Resolve(context.Background(), srv.URL)
	assert.Equal("a-first", media.AudioURL.Unwrap())
	assert.Equal("v-first", media.VideoURL.Unwrap())
}

func TestResolveEmptyListIsIndependent(t *testing.T) {
	assert := assert_.New(t)
	page := playInfoPage("Silent Film", nil, []StreamRepresentation{{500000, "v1"}})
	srv := newPageServer(t, staticPage(page))

	media := NewResolver(nil).Resolve(context.Background(), srv.URL)
	assert.True(media.AudioURL.IsNone())
	assert.Equal("v1", media.VideoURL.Unwrap())
	assert.Equal("Silent Film", media.Title.Unwrap())
	assert.NotNil(media.Header)
	assert.True(media.HasStreams())

	page = playInfoPage("Nothing", []StreamRepresentation{}, []StreamRepresentation{})
	srv = newPageServer(t, staticPage(page))
	media = NewResolver(nil).Resolve(context.Background(), srv.URL)
	assert.False(media.HasStreams())
	assert.Equal("Nothing", media.Title.Unwrap())
}

func TestResolveFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		cause   error
	}{
		{
			name: "error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, scenarioPage, http.StatusForbidden)
			},
		},
		{
			name:    "missing playinfo",
			handler: staticPage(`<h1 title="My Clip"></h1><script>window.__INITIAL_STATE__={}</script>`),
			cause:   ErrNoPlayInfo,
		},
		{
			name:    "missing title",
			handler: staticPage(`<script>window.__playinfo__={"data":{"dash":{"audio":[],"video":[]}}}</script>`),
			cause:   ErrNoTitle,
		},
		{
			name:    "missing dash",
			handler: staticPage(`<h1 title="x"></h1><script>window.__playinfo__={"data":{"durl":[]}}</script>`),
			cause:   ErrNoDash,
		},
		{
			name:    "malformed json",
			handler: staticPage(`<h1 title="x"></h1><script>window.__playinfo__={"data":</script>`),
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert := assert_.New(t)
			srv := newPageServer(t, c.handler)
			core, logs := observer.New(zapcore.ErrorLevel)
			ctx := WithLogger(context.Background(), zap.New(core))

			var media ResolvedMedia
			assert.NotPanics(func() {
				media = NewResolver(nil).Resolve(ctx, srv.URL+"/video?bvid=X&p=1")
			})
			assert.True(media.IsZero())
			assert.True(media.VideoURL.IsNone())
			assert.True(media.AudioURL.IsNone())
			assert.True(media.Title.IsNone())
			assert.Nil(media.Header)
			assert.Equal(1, logs.FilterMessageSnippet("Failed to get media links").Len())

			_, err := NewResolver(nil).ResolveErr(context.Background(), srv.URL)
			assert.ErrorIs(err, ErrResolution)
			if c.cause != nil {
				assert.ErrorIs(err, c.cause)
			}
		})
	}
}

func TestResolveUnreachable(t *testing.T) {
	assert := assert_.New(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	media, err := NewResolver(nil).ResolveErr(context.Background(), url)
	assert.ErrorIs(err, ErrResolution)
	assert.True(media.IsZero())
}

func TestResolveCompressedPage(t *testing.T) {
	encoders := map[string]func(io.Writer) io.WriteCloser{
		"br": func(w io.Writer) io.WriteCloser {
			return brotli.NewWriter(w)
		},
		"gzip": func(w io.Writer) io.WriteCloser {
			return gzip.NewWriter(w)
		},
	}
	for encoding, newWriter := range encoders {
		t.Run(encoding, func(t *testing.T) {
			assert := assert_.New(t)
			require := require_.New(t)
			var buf bytes.Buffer
			w := newWriter(&buf)
			_, err := w.Write([]byte(scenarioPage))
			require.NoError(err)
			require.NoError(w.Close())
			compressed := buf.Bytes()

			srv := newPageServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(compressed)
			})
			media, err := NewResolver(nil).ResolveErr(context.Background(), srv.URL)
			require.NoError(err)
			assert.Equal("My Clip", media.Title.Unwrap())
			assert.Equal("a2", media.AudioURL.Unwrap())
		})
	}
}
