package classifierimpl

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/orgball2608/nostr-media-observatory/internal/classifier"
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
	"go.uber.org/fx"
)

var (
	imagePattern    = regexp.MustCompile(`(?i)https?://[^\s]+\.(?:jpg|jpeg|png|gif|webp|bmp|svg|tiff|ico|avif|heic)(?:\?[^\s]*)?`)
	videoPattern    = regexp.MustCompile(`(?i)https?://[^\s]+\.(?:mp4|webm|mov|avi|mkv|m4v|flv|wmv|3gp|ogv)(?:\?[^\s]*)?|https?://(?:www\.)?(?:youtube\.com/watch\?v=|youtu\.be/|vimeo\.com/|twitch\.tv/videos/|rumble\.com/|odysee\.com/)[^\s]+`)
	audioPattern    = regexp.MustCompile(`(?i)https?://[^\s]+\.(?:mp3|wav|ogg|m4a|flac|aac|wma|opus)(?:\?[^\s]*)?|https?://(?:open\.)?(?:spotify\.com/|soundcloud\.com/|anchor\.fm/|podcasts\.apple\.com/)[^\s]+`)
	documentPattern = regexp.MustCompile(`(?i)https?://[^\s]+\.(?:pdf|doc|docx|ppt|pptx|xls|xlsx|txt|md|rtf|odt|ods|odp)(?:\?[^\s]*)?`)
	linkPattern     = regexp.MustCompile(`(?i)https?://[^\s]+`)

	extPattern       = regexp.MustCompile(`\.([^.?/]+)(?:\?|$)`)
	youtubeIDPattern = regexp.MustCompile(`v=([^&\s]+)`)
)

type Opts struct {
	fx.In

	Logger logger.Logger
}

type Impl struct {
	logger logger.Logger

	mu            sync.Mutex
	categoryCache map[string]string
}

func New(opts Opts) *Impl {
	return &Impl{
		logger:        opts.Logger.WithComponent("Classifier"),
		categoryCache: make(map[string]string),
	}
}

var _ classifier.Client = (*Impl)(nil)

// ExtractMedia splits post text into disjoint media sets plus residual links
// and the text left after stripping every recognized URL.
func (c *Impl) ExtractMedia(content string) domain.ClassifiedContent {
	result := domain.ClassifiedContent{TextContent: content}

	imageURLs := imagePattern.FindAllString(content, -1)
	videoURLs := videoPattern.FindAllString(content, -1)
	audioURLs := audioPattern.FindAllString(content, -1)
	documentURLs := documentPattern.FindAllString(content, -1)

	for _, u := range imageURLs {
		ext := fileExtension(u)
		result.Images = append(result.Images, domain.MediaItem{
			URL:     u,
			Type:    domain.TypeImage,
			Subtype: ext,
			// images are their own thumbnails
			Thumbnail: u,
			Title:     "Image: " + strings.ToUpper(ext),
		})
	}

	for _, u := range videoURLs {
		result.Videos = append(result.Videos, domain.MediaItem{
			URL:       u,
			Type:      domain.TypeVideo,
			Subtype:   videoSubtype(u),
			Title:     videoTitle(u),
			Thumbnail: videoThumbnail(u),
		})
	}

	for _, u := range audioURLs {
		result.Audio = append(result.Audio, domain.MediaItem{
			URL:     u,
			Type:    domain.TypeAudio,
			Subtype: audioSubtype(u),
			Title:   audioTitle(u),
		})
	}

	for _, u := range documentURLs {
		result.Documents = append(result.Documents, domain.MediaItem{
			URL:     u,
			Type:    domain.TypeDocument,
			Subtype: fileExtension(u),
			Title:   strings.ToUpper(fileExtension(u)) + " Document",
		})
	}

	classified := make(map[string]struct{})
	for _, urls := range [][]string{imageURLs, videoURLs, audioURLs, documentURLs} {
		for _, u := range urls {
			classified[u] = struct{}{}
		}
	}

	stripped := content
	for u := range classified {
		stripped = strings.ReplaceAll(stripped, u, "")
	}
	for _, u := range linkPattern.FindAllString(content, -1) {
		if _, ok := classified[u]; ok {
			continue
		}
		result.Links = append(result.Links, domain.MediaItem{
			URL:   u,
			Type:  domain.TypeLink,
			Title: linkTitle(u),
		})
		stripped = strings.ReplaceAll(stripped, u, "")
	}
	result.TextContent = strings.TrimSpace(stripped)

	result.TotalCount = len(result.Images) + len(result.Videos) + len(result.Audio) +
		len(result.Documents) + len(result.Links)

	return result
}

// CategorizeImage scores the post text and URL against the category table:
// a URL-pattern hit counts 3, each keyword hit counts 1, the first highest
// score in category order wins. Results are memoized per URL.
func (c *Impl) CategorizeImage(imageURL string, postContent string) string {
	c.mu.Lock()
	if cached, ok := c.categoryCache[imageURL]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	text := strings.ToLower(postContent + " " + imageURL)

	best := DefaultCategory
	maxScore := 0
	for _, cat := range Categories {
		score := 0
		if cat.URLPattern.MatchString(text) {
			score += 3
		}
		for _, kw := range cat.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > maxScore {
			maxScore = score
			best = cat.Key
		}
	}

	c.mu.Lock()
	c.categoryCache[imageURL] = best
	c.mu.Unlock()

	c.logger.Debug("Categorized image", "category", best, "score", maxScore, "url", truncate(imageURL, 50))
	return best
}

func fileExtension(u string) string {
	m := extPattern.FindStringSubmatch(u)
	if m == nil {
		return "unknown"
	}
	return strings.ToLower(m[1])
}

func videoSubtype(u string) string {
	switch {
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return "youtube"
	case strings.Contains(u, "vimeo.com"):
		return "vimeo"
	case strings.Contains(u, "twitch.tv"):
		return "twitch"
	case strings.Contains(u, "rumble.com"):
		return "rumble"
	case strings.Contains(u, "odysee.com"):
		return "odysee"
	}
	return fileExtension(u)
}

func audioSubtype(u string) string {
	switch {
	case strings.Contains(u, "spotify.com"):
		return "spotify"
	case strings.Contains(u, "soundcloud.com"):
		return "soundcloud"
	case strings.Contains(u, "anchor.fm"):
		return "podcast"
	case strings.Contains(u, "podcasts.apple.com"):
		return "apple-podcast"
	}
	return fileExtension(u)
}

func videoTitle(u string) string {
	if id := youtubeVideoID(u); id != "" {
		return "YouTube " + truncate(id, 8)
	}
	switch {
	case strings.Contains(u, "vimeo.com"):
		return "Vimeo Video"
	case strings.Contains(u, "twitch.tv"):
		return "Twitch Stream"
	}
	return strings.ToUpper(fileExtension(u)) + " Video"
}

func audioTitle(u string) string {
	switch {
	case strings.Contains(u, "spotify.com"):
		return "Spotify Track"
	case strings.Contains(u, "soundcloud.com"):
		return "SoundCloud Audio"
	case strings.Contains(u, "anchor.fm"), strings.Contains(u, "podcasts.apple.com"):
		return "Podcast"
	}
	return strings.ToUpper(fileExtension(u)) + " Audio"
}

func linkTitle(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return "External Link"
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

func videoThumbnail(u string) string {
	if id := youtubeVideoID(u); id != "" {
		return "https://img.youtube.com/vi/" + id + "/mqdefault.jpg"
	}
	return ""
}

func youtubeVideoID(u string) string {
	if strings.Contains(u, "youtube.com/watch?v=") {
		if m := youtubeIDPattern.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	if strings.Contains(u, "youtu.be/") {
		rest := u[strings.LastIndex(u, "/")+1:]
		if i := strings.IndexByte(rest, '?'); i >= 0 {
			rest = rest[:i]
		}
		return rest
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
