package persona

import (
	"regexp"
	"strings"
)

// Gender is the voice-bucket classification derived from a persona description.
type Gender string

const (
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
	GenderUnknown Gender = "unknown"
)

// Structured declarations win over keyword scoring. The tag forms cover the
// persona templates the desktop client emits ("Gender: female", "[male]",
// "gender=f") plus hand-written variants.
var (
	structuredTagRe = regexp.MustCompile(`(?i)\bgender\s*[:=]\s*(female|male|woman|man|f|m)\b`)
	bracketTagRe    = regexp.MustCompile(`(?i)\[\s*(female|male)\s*\]`)

	femaleWordRe = regexp.MustCompile(`(?i)\b(she|her|hers|herself|woman|women|girl|girls|lady|female|feminine|mother|mom|sister|daughter|wife|aunt|grandmother|queen|princess|actress|waitress|goddess)\b`)
	maleWordRe   = regexp.MustCompile(`(?i)\b(he|him|his|himself|man|men|boy|boys|gentleman|male|masculine|father|dad|brother|son|husband|uncle|grandfather|king|prince|actor|waiter|god)\b`)
)

// Classify derives a gender bucket from free-text persona description.
// An explicit structured declaration is deterministic and ignores keyword
// scoring; otherwise female- and male-associated words are counted with
// word-boundary matching and the strictly higher count wins. Ties are Unknown.
func Classify(text string) Gender {
	text = strings.TrimSpace(text)
	if text == "" {
		return GenderUnknown
	}

	if g, ok := structuredDeclaration(text); ok {
		return g
	}

	femaleScore := len(femaleWordRe.FindAllString(text, -1))
	maleScore := len(maleWordRe.FindAllString(text, -1))
	switch {
	case femaleScore > maleScore:
		return GenderFemale
	case maleScore > femaleScore:
		return GenderMale
	default:
		return GenderUnknown
	}
}

func structuredDeclaration(text string) (Gender, bool) {
	if m := structuredTagRe.FindStringSubmatch(text); m != nil {
		return normalizeTag(m[1]), true
	}
	if m := bracketTagRe.FindStringSubmatch(text); m != nil {
		return normalizeTag(m[1]), true
	}
	return GenderUnknown, false
}

func normalizeTag(raw string) Gender {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "female", "woman", "f":
		return GenderFemale
	case "male", "man", "m":
		return GenderMale
	default:
		return GenderUnknown
	}
}

// Opposite returns the other concrete bucket, used when a voice bucket is
// empty and the resolver falls back rather than failing with no voice.
func Opposite(g Gender) Gender {
	switch g {
	case GenderFemale:
		return GenderMale
	case GenderMale:
		return GenderFemale
	default:
		return GenderUnknown
	}
}
