package dash_archiver

import (
	"net/http"

	"github.com/alanbriolat/dash-archiver/generic"
)

// ResolvedMedia is the result of resolving a page URL. Every field is absent (and Header is nil) if resolution failed.
type ResolvedMedia struct {
	VideoURL generic.Option[string]
	AudioURL generic.Option[string]
	// Header must be sent with the media requests, as the hosting site checks the referer.
	Header http.Header
	Title  generic.Option[string]
}

// IsZero reports whether m is the all-absent value returned by a failed resolution.
func (m ResolvedMedia) IsZero() bool {
	return m.VideoURL.IsNone() && m.AudioURL.IsNone() && m.Title.IsNone() && m.Header == nil
}

// HasStreams reports whether at least one stream URL was selected.
func (m ResolvedMedia) HasStreams() bool {
	return m.VideoURL.IsSome() || m.AudioURL.IsSome()
}

// StreamRepresentation is one entry of the audio or video list in a page's play info.
type StreamRepresentation struct {
	Bandwidth int64  `json:"bandwidth"`
	BaseURL   string `json:"baseUrl"`
}

// SelectBest returns the representation with the largest positive bandwidth. Among equal bandwidths the first one
// wins.
func SelectBest(reps []StreamRepresentation) generic.Option[StreamRepresentation] {
	best := generic.None[StreamRepresentation]()
	var bestBandwidth int64
	for _, rep := range reps {
		if rep.Bandwidth > bestBandwidth {
			bestBandwidth = rep.Bandwidth
			best = generic.Some(rep)
		}
	}
	return best
}

// DownloadedPayload holds fetched stream bodies until they are written to disk. A nil slice means the stream was not
// fetched.
type DownloadedPayload struct {
	Video []byte
	Audio []byte
}

type playInfo struct {
	Data struct {
		Dash *struct {
			Audio []StreamRepresentation `json:"audio"`
			Video []StreamRepresentation `json:"video"`
		} `json:"dash"`
	} `json:"data"`
}
