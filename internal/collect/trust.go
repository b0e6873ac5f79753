package collect

import "strings"

// Publisher reputation weighting, 0-100. Feed items only carry the publisher
// name, so this is a curated score table with a midline default for anything
// unlisted.
var publisherTrust = map[string]int{
	"reuters":                 90,
	"associated press":        90,
	"yonhap news agency":      90,
	"bloomberg":               85,
	"financial times":         85,
	"the wall street journal": 85,
	"bbc news":                80,
	"cnbc":                    75,
	"techcrunch":              70,
	"business insider":        60,
}

const (
	defaultTrust = 70
	unknownTrust = 50
)

// PublisherTrust scores the source an item was published by. An item with no
// source information at all scores below the default: provenance unknown.
func PublisherTrust(source string) int {
	key := strings.ToLower(strings.TrimSpace(source))
	if key == "" {
		return unknownTrust
	}
	if score, ok := publisherTrust[key]; ok {
		return score
	}
	return defaultTrust
}
