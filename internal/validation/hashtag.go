package validation

import (
	"errors"
	"strings"
	"unicode"
)

var ErrInvalidHashtag = errors.New("invalid hashtag")

const maxHashtagLength = 64

// NormalizeHashtag strips one leading '#' and surrounding whitespace and
// rejects tags that are empty, too long or contain whitespace.
func NormalizeHashtag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "#")
	if tag == "" {
		return "", ErrInvalidHashtag
	}
	if len(tag) > maxHashtagLength {
		return "", ErrInvalidHashtag
	}
	for _, r := range tag {
		if unicode.IsSpace(r) || r == '#' {
			return "", ErrInvalidHashtag
		}
	}
	return tag, nil
}
