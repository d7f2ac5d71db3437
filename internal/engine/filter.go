package engine

import (
	"strings"
	"unicode/utf8"
)

// FilterConfig holds the engine-specific noise signatures. The defaults match
// llama.cpp's llama-cli transcript output.
type FilterConfig struct {
	// NoiseSubstrings drop any line containing one of them.
	NoiseSubstrings []string
	// FillerGlyphs are terminal-drawing characters; a line made mostly of one is dropped.
	FillerGlyphs string
	// MinFillerRun is the lower bound on the glyph count for the dominance rule.
	MinFillerRun int
	// AssistantMarker is stripped from the start of content lines.
	AssistantMarker string
	// UserMarker starts an echoed user turn; such lines are dropped.
	UserMarker string
}

// DefaultNoiseSubstrings returns the llama-cli banner, memory report and
// interactive-help signatures.
func DefaultNoiseSubstrings() []string {
	return []string{
		"llama_memory_breakdown_print",
		"Exiting",
		"> User:",
		"available commands",
		"/exit",
		"/regen",
		"/clear",
		"/read",
		"Loading model",
		"modalities",
		"[ Prompt:",
		"█",
		"▀",
		"▄",
	}
}

// DefaultFilterConfig returns the filter tuned for llama-cli.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		NoiseSubstrings: DefaultNoiseSubstrings(),
		FillerGlyphs:    ">",
		MinFillerRun:    10,
		AssistantMarker: DefaultAssistantMarker,
		UserMarker:      DefaultUserMarker,
	}
}

// Filter classifies completed output lines as content or noise.
type Filter struct {
	cfg    FilterConfig
	glyphs []rune
}

// NewFilter builds a Filter. Empty markers fall back to the defaults; an empty
// noise list is honored as-is.
func NewFilter(cfg FilterConfig) *Filter {
	if cfg.AssistantMarker == "" {
		cfg.AssistantMarker = DefaultAssistantMarker
	}
	if cfg.UserMarker == "" {
		cfg.UserMarker = DefaultUserMarker
	}
	if cfg.MinFillerRun <= 0 {
		cfg.MinFillerRun = 10
	}
	subs := make([]string, 0, len(cfg.NoiseSubstrings))
	for _, s := range cfg.NoiseSubstrings {
		if s != "" {
			subs = append(subs, s)
		}
	}
	cfg.NoiseSubstrings = subs
	return &Filter{cfg: cfg, glyphs: []rune(cfg.FillerGlyphs)}
}

// AssistantMarker returns the configured assistant-role prefix.
func (f *Filter) AssistantMarker() string { return f.cfg.AssistantMarker }

// Apply returns the content carried by line and whether it should be forwarded.
func (f *Filter) Apply(line string) (string, bool) {
	if f.IsNoise(line) {
		return "", false
	}
	s := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(s, f.cfg.AssistantMarker); ok {
		s = strings.TrimSpace(rest)
		if s == "" {
			return "", false
		}
	}
	return s, true
}

// IsNoise reports whether line is blank, a diagnostic, an echoed user turn or
// filler. Assistant-prefixed lines are not noise.
func (f *Filter) IsNoise(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return true
	}
	for _, sub := range f.cfg.NoiseSubstrings {
		if strings.Contains(line, sub) {
			return true
		}
	}
	if strings.HasPrefix(s, f.cfg.UserMarker) {
		return true
	}
	return f.isFiller(s)
}

func (f *Filter) isFiller(s string) bool {
	n := utf8.RuneCountInString(s)
	threshold := f.cfg.MinFillerRun
	if n/2 > threshold {
		threshold = n / 2
	}
	for _, g := range f.glyphs {
		c := strings.Count(s, string(g))
		if c == n || c >= threshold {
			return true
		}
	}
	return false
}

// CleanTranscript applies the batch rules to a full capture: noise lines are
// removed, everything through the last assistant marker is discarded and the
// reply is cut at the first stop sequence.
func (f *Filter) CleanTranscript(lines []string, stop []string) string {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if !f.IsNoise(l) {
			kept = append(kept, l)
		}
	}
	text := strings.Join(kept, "\n")
	if i := strings.LastIndex(text, f.cfg.AssistantMarker); i >= 0 {
		text = text[i+len(f.cfg.AssistantMarker):]
	}
	if i := indexAny(text, stop); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// indexAny returns the smallest index of any non-empty needle in s, or -1.
func indexAny(s string, needles []string) int {
	best := -1
	for _, n := range needles {
		if n == "" {
			continue
		}
		if i := strings.Index(s, n); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}
