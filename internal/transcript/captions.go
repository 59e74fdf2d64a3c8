package transcript

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoCaptions is returned when no caption track exists for any of the
// configured languages.
var ErrNoCaptions = errors.New("transcript: no caption track available")

// defaultTimedTextURL is the endpoint serving official caption tracks as
// timedtext XML.
const defaultTimedTextURL = "https://video.google.com/timedtext"

// CaptionFetcher downloads official caption tracks.
type CaptionFetcher struct {
	baseURL    string
	languages  []string
	httpClient *http.Client
}

// CaptionOption is a functional option for CaptionFetcher.
type CaptionOption func(*CaptionFetcher)

// WithCaptionBaseURL overrides the timedtext endpoint, mainly for tests.
func WithCaptionBaseURL(u string) CaptionOption {
	return func(f *CaptionFetcher) {
		f.baseURL = u
	}
}

// WithLanguages sets the language codes tried in order. Defaults to
// ["en", "en-US", "en-GB"].
func WithLanguages(langs ...string) CaptionOption {
	return func(f *CaptionFetcher) {
		if len(langs) > 0 {
			f.languages = langs
		}
	}
}

// NewCaptionFetcher creates a CaptionFetcher with the options applied.
func NewCaptionFetcher(opts ...CaptionOption) *CaptionFetcher {
	f := &CaptionFetcher{
		baseURL:    defaultTimedTextURL,
		languages:  []string{"en", "en-US", "en-GB"},
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// timedText mirrors the timedtext XML document.
type timedText struct {
	XMLName xml.Name       `xml:"transcript"`
	Texts   []timedTextCue `xml:"text"`
}

type timedTextCue struct {
	Start float64 `xml:"start,attr"`
	Dur   float64 `xml:"dur,attr"`
	Body  string  `xml:",chardata"`
}

// Fetch tries each configured language in order and returns the first
// non-empty caption track. Returns ErrNoCaptions when every language comes
// back empty.
func (f *CaptionFetcher) Fetch(ctx context.Context, videoID string) (*Transcript, error) {
	if videoID == "" {
		return nil, errors.New("transcript: videoID must not be empty")
	}
	for _, lang := range f.languages {
		t, err := f.fetchLang(ctx, videoID, lang)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: video %s", ErrNoCaptions, videoID)
}

// fetchLang returns (nil, nil) when the track for lang is absent or empty.
func (f *CaptionFetcher) fetchLang(ctx context.Context, videoID, lang string) (*Transcript, error) {
	endpoint := fmt.Sprintf("%s?lang=%s&v=%s", f.baseURL, url.QueryEscape(lang), url.QueryEscape(videoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("transcript: create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcript: fetch captions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcript: caption server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("transcript: read captions: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var doc timedText
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("transcript: parse timedtext XML: %w", err)
	}
	if len(doc.Texts) == 0 {
		return nil, nil
	}

	t := &Transcript{
		VideoID:  videoID,
		Language: lang,
		Source:   SourceCaptions,
		Fetched:  time.Now().UTC(),
	}
	for _, cue := range doc.Texts {
		text := strings.TrimSpace(html.UnescapeString(cue.Body))
		if text == "" {
			continue
		}
		start := time.Duration(cue.Start * float64(time.Second))
		t.Segments = append(t.Segments, Segment{
			Text:  text,
			Start: start,
			End:   start + time.Duration(cue.Dur*float64(time.Second)),
		})
	}
	if len(t.Segments) == 0 {
		return nil, nil
	}
	return t, nil
}
