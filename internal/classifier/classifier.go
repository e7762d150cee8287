package classifier

import (
	"github.com/orgball2608/nostr-media-observatory/internal/domain"
)

// Client extracts and categorizes media found in raw post text. Both
// operations are deterministic and side-effect free; CategorizeImage is
// memoized per URL.
type Client interface {
	ExtractMedia(content string) domain.ClassifiedContent
	CategorizeImage(url string, postContent string) string
}
