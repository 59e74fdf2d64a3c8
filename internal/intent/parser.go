package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// rule pairs a compiled pattern with a constructor for the matched message.
// Rules are tried in order; the first match wins.
type rule struct {
	name  string
	regex *regexp.Regexp
	build func(matches []string) (Message, bool)
}

// Parser maps free text to an optional playback-control [Message] using an
// ordered list of pattern rules. Text that matches no rule is a
// conversational query and yields ok == false.
//
// Parser is stateless and safe for concurrent use.
type Parser struct {
	rules []rule
}

// NewParser creates a Parser with the built-in media-control rules.
func NewParser() *Parser {
	return &Parser{rules: defaultRules()}
}

// Parse returns the control message recognised in text, or ok == false when
// text should be treated as a conversational query. Parse has no side
// effects and is deterministic.
func (p *Parser) Parse(text string) (Message, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, false
	}

	for _, r := range p.rules {
		matches := r.regex.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}
		if msg, ok := r.build(matches); ok {
			return msg, true
		}
	}
	return Message{}, false
}

func defaultRules() []rule {
	return []rule{
		{
			name:  "rewind",
			regex: regexp.MustCompile(`(?i)^(?:rewind|go back|back(?: up)?)(?:\s+by)?\s+(\d+(?:\.\d+)?)\s*(seconds?|secs?|minutes?|mins?)?\.?$`),
			build: func(m []string) (Message, bool) {
				secs, ok := parseDuration(m[1], m[2])
				if !ok {
					return Message{}, false
				}
				return Message{Kind: KindRewind, Value: secs}, true
			},
		},
		{
			name:  "rewind-bare",
			regex: regexp.MustCompile(`(?i)^(?:rewind|go back)\.?$`),
			build: func(_ []string) (Message, bool) {
				return Message{Kind: KindRewind, Value: 10}, true
			},
		},
		{
			name:  "forward",
			regex: regexp.MustCompile(`(?i)^(?:(?:skip|go|fast)\s+)?forward(?:\s+by)?\s+(\d+(?:\.\d+)?)\s*(seconds?|secs?|minutes?|mins?)?\.?$|^skip\s+(?:ahead\s+)?(\d+(?:\.\d+)?)\s*(seconds?|secs?|minutes?|mins?)?\.?$`),
			build: func(m []string) (Message, bool) {
				num, unit := m[1], m[2]
				if num == "" {
					num, unit = m[3], m[4]
				}
				secs, ok := parseDuration(num, unit)
				if !ok {
					return Message{}, false
				}
				return Message{Kind: KindForward, Value: secs}, true
			},
		},
		{
			name:  "pause",
			regex: regexp.MustCompile(`(?i)^(?:pause|stop)(?:\s+(?:the\s+)?video)?\.?$`),
			build: func(_ []string) (Message, bool) {
				return Message{Kind: KindPause}, true
			},
		},
		{
			name:  "play",
			regex: regexp.MustCompile(`(?i)^(?:play|resume|continue|unpause)(?:\s+(?:the\s+)?video)?\.?$`),
			build: func(_ []string) (Message, bool) {
				return Message{Kind: KindPlay}, true
			},
		},
		{
			name:  "speed-numeric",
			regex: regexp.MustCompile(`(?i)^(?:set\s+)?(?:playback\s+)?speed(?:\s+to)?\s+(\d+(?:\.\d+)?)x?\.?$`),
			build: func(m []string) (Message, bool) {
				v, err := strconv.ParseFloat(m[1], 64)
				if err != nil {
					return Message{}, false
				}
				return Message{Kind: KindSetSpeed, Value: clamp(v, MinSpeed, MaxSpeed)}, true
			},
		},
		{
			name:  "speed-faster",
			regex: regexp.MustCompile(`(?i)^(?:go\s+|play\s+)?faster\.?$|^speed\s+up\.?$`),
			build: func(_ []string) (Message, bool) {
				return Message{Kind: KindSetSpeed, Value: 1.5}, true
			},
		},
		{
			name:  "speed-slower",
			regex: regexp.MustCompile(`(?i)^(?:go\s+|play\s+)?slower\.?$|^slow\s+down\.?$`),
			build: func(_ []string) (Message, bool) {
				return Message{Kind: KindSetSpeed, Value: 0.75}, true
			},
		},
		{
			name:  "volume",
			regex: regexp.MustCompile(`(?i)^(?:set\s+)?(?:the\s+)?volume(?:\s+to)?\s+(\d+(?:\.\d+)?)(?:\s*(?:%|percent))?\.?$`),
			build: func(m []string) (Message, bool) {
				v, err := strconv.ParseFloat(m[1], 64)
				if err != nil {
					return Message{}, false
				}
				return Message{Kind: KindSetVolume, Value: clamp(v, MinVolume, MaxVolume)}, true
			},
		},
		{
			name:  "jump-to-phrase",
			regex: regexp.MustCompile(`(?i)^(?:jump|go|skip)\s+to\s+(?:the\s+part\s+)?(.+?)\.?$`),
			build: func(m []string) (Message, bool) {
				phrase := strings.TrimSpace(m[1])
				if phrase == "" {
					return Message{}, false
				}
				return Message{Kind: KindJumpToPhrase, Phrase: phrase}, true
			},
		},
	}
}

// parseDuration converts a numeric string plus an optional unit word into
// seconds. Minute units scale by 60; the default unit is seconds.
func parseDuration(num, unit string) (float64, bool) {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	switch {
	case strings.HasPrefix(strings.ToLower(unit), "min"):
		return v * 60, true
	default:
		return v, true
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
