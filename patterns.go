// This file holds the compiled, immutable pattern set C3 matches against:
// the URL patterns (priorities 5-10, confidence = priority/10), the title
// extraction patterns, and the scalar needle pre-filter.

package exfatrecovery

import "regexp"

// TokenPattern is one compiled URL pattern with its matching priority.
type TokenPattern struct {
	Name     string
	Regex    *regexp.Regexp
	Priority int
}

// tokenPatternDefs mirrors the original matcher's pattern table: standard
// and embed/short/mobile/etc. variants of a video-sharing URL, each
// capturing an 11-character identifier, plus looser catch-all forms with
// lower priority (higher false-positive risk).
var tokenPatternDefs = []struct {
	name     string
	pattern  string
	priority int
}{
	{"standard", `https?://(?:www\.)?example\.invalid/watch\?v=([\w-]{11})(?:[&?][^\s]*)?`, 10},
	{"short", `https?://ex\.invalid/([\w-]{11})(?:\?[^\s]*)?`, 10},
	{"embed", `https?://(?:www\.)?example\.invalid/embed/([\w-]{11})(?:\?[^\s]*)?`, 9},
	{"v_slash", `https?://(?:www\.)?example\.invalid/v/([\w-]{11})`, 8},
	{"shorts", `https?://(?:www\.)?example\.invalid/shorts/([\w-]{11})(?:\?[^\s]*)?`, 10},
	{"live", `https?://(?:www\.)?example\.invalid/live/([\w-]{11})`, 9},
	{"mobile", `https?://m\.example\.invalid/watch\?v=([\w-]{11})(?:[&?][^\s]*)?`, 9},
	{"gaming", `https?://gaming\.example\.invalid/watch\?v=([\w-]{11})`, 8},
	{"media", `https?://media\.example\.invalid/watch\?v=([\w-]{11})`, 8},
	{"studio", `https?://studio\.example\.invalid/video/([\w-]{11})/edit`, 7},
	{"kids", `https?://www\.example-kids\.invalid/watch\?v=([\w-]{11})`, 7},
	{"nocookie", `https?://www\.example-nocookie\.invalid/embed/([\w-]{11})`, 8},
	{"attribution", `attribution_link\?.*v[=/]([\w-]{11})`, 6},
	{"redirect", `redirect\.invalid/url\?.*example.*v[=/]([\w-]{11})`, 6},
	{"user_attribution", `feature=player_embedded.*v=([\w-]{11})`, 6},
	{"app_indexing", `android-app://com\.example\.android\.app/http/www\.example\.invalid/watch\?v=([\w-]{11})`, 7},
	{"v_param", `[?&]v=([\w-]{11})(?:[&#\s]|$)`, 6},
	{"playlist_video", `example\.invalid/watch\?.*v=([\w-]{11}).*&list=`, 8},
	{"video_id_json", `["']video_id["']\s*:\s*["']([\w-]{11})["']`, 5},
	{"data_video_id", `data-video-id=["']([\w-]{11})["']`, 5},
}

// TokenPatterns is the immutable, shared, compiled pattern set, built once
// at package init and never mutated afterwards: every worker's
// Matcher.FreshClone shares this same slice.
var TokenPatterns []TokenPattern

// titlePatternDefs mirrors the original title extraction patterns, tried in
// order against a context window around a matched token.
var titlePatternDefs = []string{
	`<title>(.*?)(?:\s*-\s*[A-Za-z0-9]+)?</title>`,
	`"title"\s*:\s*"((?:[^"\\]|\\.)*)"`,
	`<meta name="title" content="((?:[^"\\]|\\.)*)">`,
	`"videoTitle"\s*:\s*"((?:[^"\\]|\\.)*?)"`,
	`data-video-title="((?:[^"\\]|\\.)*)"`,
	`<h1[^>]*>(.*?)</h1>`,
}

// TitlePatterns is the compiled title-extraction pattern table.
var TitlePatterns []*regexp.Regexp

// needlePrefilter is the scalar pre-filter set: cheap substrings that must
// appear before the (comparatively expensive) full pattern set is run over
// a window.
var needlePrefilter = [][]byte{
	[]byte("example.invalid"),
	[]byte("ex.invalid"),
	[]byte("video_id"),
	[]byte("video-id"),
	[]byte("v="),
	[]byte("/v/"),
	[]byte("embed/"),
	[]byte("shorts/"),
}

func init() {
	TokenPatterns = make([]TokenPattern, 0, len(tokenPatternDefs))
	for _, def := range tokenPatternDefs {
		TokenPatterns = append(TokenPatterns, TokenPattern{
			Name:     def.name,
			Regex:    regexp.MustCompile(def.pattern),
			Priority: def.priority,
		})
	}

	TitlePatterns = make([]*regexp.Regexp, 0, len(titlePatternDefs))
	for _, pattern := range titlePatternDefs {
		TitlePatterns = append(TitlePatterns, regexp.MustCompile(pattern))
	}
}
