package extract

import "regexp"

// Signals captures digital-presence indicators gathered while walking a
// lead's site. The scorer rewards the gaps, so absence of a signal here
// raises the score.
type Signals struct {
	HasWebsite      bool
	HasVideo        bool
	HasVideoChannel bool
	LegacyMarkup    bool
	HasImageProfile bool
	ContactName     bool
}

var (
	videoEmbedRe = regexp.MustCompile(`(?i)(youtube\.com/(?:watch|embed)|youtu\.be/|vimeo\.com/\d|\.mp4\b|wistia\.com)`)

	videoChannelRe = regexp.MustCompile(`(?i)(youtube\.com/(?:channel/|c/|user/|@)|tiktok\.com/@)`)

	// Markers that only show up on sites built with long-dead tooling.
	legacyMarkerRe = regexp.MustCompile(`(?i)(adobe flash|\.swf\b|frameset|best viewed in|netscape|internet explorer [456]|<marquee|powered by frontpage)`)

	// A linked profile on an image-sharing platform, not a bare mention
	// of the platform.
	imageProfileRe = regexp.MustCompile(`(?i)(instagram\.com|pinterest\.com|flickr\.com)/[a-zA-Z0-9_.\-]`)
)

// detectSignals scans one page's markdown rendition.
func detectSignals(content string) Signals {
	var s Signals
	if videoEmbedRe.MatchString(content) {
		s.HasVideo = true
	}
	if videoChannelRe.MatchString(content) {
		s.HasVideoChannel = true
	}
	if legacyMarkerRe.MatchString(content) {
		s.LegacyMarkup = true
	}
	if imageProfileRe.MatchString(content) {
		s.HasImageProfile = true
	}
	return s
}

// merge folds another page's signals into the accumulated set. Presence
// signals are sticky across pages.
func (s *Signals) merge(other Signals) {
	s.HasVideo = s.HasVideo || other.HasVideo
	s.HasVideoChannel = s.HasVideoChannel || other.HasVideoChannel
	s.LegacyMarkup = s.LegacyMarkup || other.LegacyMarkup
	s.HasImageProfile = s.HasImageProfile || other.HasImageProfile
}
