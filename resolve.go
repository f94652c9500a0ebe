package dash_archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/alanbriolat/dash-archiver/generic"
	"github.com/alanbriolat/dash-archiver/util"
)

var (
	titlePattern    = regexp.MustCompile(`title="(.*?)"`)
	playInfoPattern = regexp.MustCompile(`window\.__playinfo__=(.*?)</script>`)
)

// A Resolver turns a video page URL into the direct URLs of its best audio and video streams.
type Resolver struct {
	client *http.Client
}

// NewResolver creates a Resolver using client, or http.DefaultClient if client is nil.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{client: client}
}

// RequestHeader builds the headers used for the page request and all subsequent media requests.
func RequestHeader(pageURL string) http.Header {
	header := http.Header{}
	header.Set("User-Agent", userAgent)
	header.Set("Referer", util.RefererFromURL(pageURL))
	header.Set("Accept-Encoding", "identity")
	header.Set("Sec-Ch-Ua", secChUa)
	return header
}

// Resolve is like ResolveErr, but logs the failure instead of returning it. A failed resolution gives the all-absent
// ResolvedMedia (see ResolvedMedia.IsZero).
func (r *Resolver) Resolve(ctx context.Context, pageURL string) ResolvedMedia {
	media, err := r.ResolveErr(ctx, pageURL)
	if err != nil {
		Logger(ctx).Named("resolver").Sugar().Errorf("Failed to get media links for %s: %v", pageURL, err)
	}
	return media
}

// ResolveErr fetches the page and selects the highest bandwidth audio and video streams from its play info. Any
// error matches ErrResolution, and comes with the all-absent ResolvedMedia.
func (r *Resolver) ResolveErr(ctx context.Context, pageURL string) (ResolvedMedia, error) {
	media, err := r.resolve(ctx, pageURL)
	if err != nil {
		return ResolvedMedia{}, newStepError(StepResolve, err)
	}
	return media, nil
}

func (r *Resolver) resolve(ctx context.Context, pageURL string) (ResolvedMedia, error) {
	logger := Logger(ctx).Named("resolver").Sugar()
	header := RequestHeader(pageURL)

	logger.Debugf("Fetching page %s", pageURL)
	body, err := get(ctx, r.client, pageURL, header, nil)
	if err != nil {
		return ResolvedMedia{}, fmt.Errorf("failed to fetch page: %w", err)
	}

	title, info, err := extractPage(body)
	if err != nil {
		return ResolvedMedia{}, err
	}

	audio := SelectBest(info.Data.Dash.Audio)
	video := SelectBest(info.Data.Dash.Video)
	media := ResolvedMedia{
		VideoURL: generic.NonZero(video.UnwrapOrDefault().BaseURL),
		AudioURL: generic.NonZero(audio.UnwrapOrDefault().BaseURL),
		Header:   header,
		Title:    generic.Some(title),
	}
	logger.Debugw("Resolved media",
		"title", title,
		"video_bandwidth", video.UnwrapOrDefault().Bandwidth,
		"audio_bandwidth", audio.UnwrapOrDefault().Bandwidth,
	)
	return media, nil
}

// extractPage finds the title and parses the play info embedded in a page body.
func extractPage(body []byte) (string, *playInfo, error) {
	titleMatch := titlePattern.FindSubmatch(body)
	if titleMatch == nil {
		return "", nil, ErrNoTitle
	}
	infoMatch := playInfoPattern.FindSubmatch(body)
	if infoMatch == nil {
		return "", nil, ErrNoPlayInfo
	}
	var info playInfo
	if err := json.Unmarshal(infoMatch[1], &info); err != nil {
		return "", nil, fmt.Errorf("failed to parse play info: %w", err)
	}
	if info.Data.Dash == nil {
		return "", nil, ErrNoDash
	}
	return string(titleMatch[1]), &info, nil
}
