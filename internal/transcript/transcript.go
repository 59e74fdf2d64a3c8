// Package transcript acquires and searches video transcripts.
//
// Acquisition follows a fixed priority chain: a cached copy on disk, then
// the platform's official caption track, then machine transcription of a
// short audio sample as the last resort. Search inside a transcript is also
// chained: exact substring first, fuzzy string similarity second; callers
// fall through to the semantic matcher only when both miss.
package transcript

import (
	"strings"
	"time"
)

// Source values recorded on a Transcript.
const (
	SourceCaptions = "captions"
	SourceSTT      = "stt"
	SourceCache    = "cache"
)

// Segment is one time-aligned piece of a transcript.
type Segment struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Transcript is a full transcript for one video.
type Transcript struct {
	VideoID  string    `json:"video_id"`
	Language string    `json:"language"`
	Source   string    `json:"source"`
	Fetched  time.Time `json:"fetched"`
	Segments []Segment `json:"segments"`
}

// Text returns the whole transcript joined into one string.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// Duration returns the end time of the last segment.
func (t *Transcript) Duration() time.Duration {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}
