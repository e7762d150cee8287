package classifierimpl

import "regexp"

// ImageCategory is one content bucket for the keyword scorer.
type ImageCategory struct {
	Key        string
	Name       string
	Keywords   []string
	URLPattern *regexp.Regexp
}

// DefaultCategory is used when nothing scores above zero.
const DefaultCategory = "art"

// Categories is the fixed scoring order. Ties break to the first highest
// score in this enumeration order; that order is part of the contract.
var Categories = []ImageCategory{
	{
		Key:        "nature",
		Name:       "Nature & Landscapes",
		Keywords:   []string{"nature", "landscape", "tree", "forest", "mountain", "ocean", "sunset", "flower", "garden", "park"},
		URLPattern: regexp.MustCompile(`(?i)nature|landscape|tree|forest|mountain|ocean|sunset|flower`),
	},
	{
		Key:        "food",
		Name:       "Food & Drinks",
		Keywords:   []string{"food", "pizza", "burger", "coffee", "restaurant", "cooking", "recipe", "fruit", "drink"},
		URLPattern: regexp.MustCompile(`(?i)food|pizza|burger|coffee|restaurant|cooking|recipe|fruit|drink`),
	},
	{
		Key:        "tech",
		Name:       "Tech & Crypto",
		Keywords:   []string{"bitcoin", "crypto", "blockchain", "tech", "computer", "code", "programming", "ai"},
		URLPattern: regexp.MustCompile(`(?i)bitcoin|crypto|blockchain|tech|computer|code|programming|ai`),
	},
	{
		Key:        "memes",
		Name:       "Memes & Humor",
		Keywords:   []string{"meme", "funny", "lol", "joke", "humor", "comic", "pepe", "wojak"},
		URLPattern: regexp.MustCompile(`(?i)meme|funny|lol|joke|humor|comic|pepe|wojak`),
	},
	{
		Key:        "art",
		Name:       "Art & Creative",
		Keywords:   []string{"art", "painting", "drawing", "creative", "design", "artist", "gallery"},
		URLPattern: regexp.MustCompile(`(?i)art|painting|drawing|creative|design|artist|gallery`),
	},
}
