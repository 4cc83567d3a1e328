package voice

import (
	"strings"

	"github.com/martasollai/iris/internal/persona"
)

// VoiceProfile is one known voice identity. Profiles are immutable after
// startup and safely shared.
type VoiceProfile struct {
	Keyword     string         `json:"keyword"`
	BackendName string         `json:"backend_name"`
	Locale      string         `json:"locale"`
	Gender      persona.Gender `json:"gender"`
}

// Natural reports whether the profile is a higher-quality neural voice;
// the resolver prefers these when substring matches tie.
func (v VoiceProfile) Natural() bool {
	n := strings.ToLower(v.BackendName)
	return strings.Contains(n, "neural") || strings.Contains(n, "natural")
}

// Catalog enumerates the known voice identities with lookup and
// gender-bucket queries. Read-only after construction.
type Catalog struct {
	profiles  []VoiceProfile
	byKeyword map[string]VoiceProfile
}

// defaultProfiles covers the cloud speech voices the desktop client ships
// presets for. Bucket order matters: earlier entries are preferred defaults.
var defaultProfiles = []VoiceProfile{
	{Keyword: "Jenny", BackendName: "en-US-JennyNeural", Locale: "en-US", Gender: persona.GenderFemale},
	{Keyword: "Aria", BackendName: "en-US-AriaNeural", Locale: "en-US", Gender: persona.GenderFemale},
	{Keyword: "Michelle", BackendName: "en-US-MichelleNeural", Locale: "en-US", Gender: persona.GenderFemale},
	{Keyword: "Sonia", BackendName: "en-GB-SoniaNeural", Locale: "en-GB", Gender: persona.GenderFemale},
	{Keyword: "Libby", BackendName: "en-GB-LibbyNeural", Locale: "en-GB", Gender: persona.GenderFemale},
	{Keyword: "Natasha", BackendName: "en-AU-NatashaNeural", Locale: "en-AU", Gender: persona.GenderFemale},
	{Keyword: "Guy", BackendName: "en-US-GuyNeural", Locale: "en-US", Gender: persona.GenderMale},
	{Keyword: "Davis", BackendName: "en-US-DavisNeural", Locale: "en-US", Gender: persona.GenderMale},
	{Keyword: "Ryan", BackendName: "en-GB-RyanNeural", Locale: "en-GB", Gender: persona.GenderMale},
	{Keyword: "Thomas", BackendName: "en-GB-ThomasNeural", Locale: "en-GB", Gender: persona.GenderMale},
	{Keyword: "William", BackendName: "en-AU-WilliamNeural", Locale: "en-AU", Gender: persona.GenderMale},
}

// NewCatalog builds a catalog from the built-in profiles.
func NewCatalog() *Catalog {
	return NewCatalogWith(defaultProfiles)
}

// NewCatalogWith builds a catalog from explicit profiles.
func NewCatalogWith(profiles []VoiceProfile) *Catalog {
	c := &Catalog{
		profiles:  make([]VoiceProfile, len(profiles)),
		byKeyword: make(map[string]VoiceProfile, len(profiles)),
	}
	copy(c.profiles, profiles)
	for _, p := range c.profiles {
		c.byKeyword[strings.ToLower(p.Keyword)] = p
	}
	return c
}

// Lookup returns the profile for a voice keyword, case-insensitively.
func (c *Catalog) Lookup(keyword string) (VoiceProfile, bool) {
	p, ok := c.byKeyword[strings.ToLower(strings.TrimSpace(keyword))]
	return p, ok
}

// Bucket returns the profiles in one gender bucket, in preference order.
func (c *Catalog) Bucket(g persona.Gender) []VoiceProfile {
	out := make([]VoiceProfile, 0, len(c.profiles))
	for _, p := range c.profiles {
		if p.Gender == g {
			out = append(out, p)
		}
	}
	return out
}

// All returns every profile in the catalog.
func (c *Catalog) All() []VoiceProfile {
	out := make([]VoiceProfile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// localeMatches reports whether a profile locale falls under the requested
// language ("en" matches "en-US" and "en-GB").
func localeMatches(profileLocale, requested string) bool {
	pl := strings.ToLower(strings.TrimSpace(profileLocale))
	req := strings.ToLower(strings.TrimSpace(requested))
	if req == "" || pl == req {
		return true
	}
	return strings.HasPrefix(pl, req+"-")
}
