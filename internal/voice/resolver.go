package voice

import (
	"strings"

	"github.com/martasollai/iris/internal/persona"
)

// Resolver maps a requested voice keyword (or AUTO) plus a classified persona
// gender onto a concrete voice available on the active synthesizer backend.
type Resolver struct {
	catalog *Catalog
	locale  string
}

// NewResolver builds a resolver over the catalog. locale is the requester's
// language restriction for fuzzy matches; empty means "en".
func NewResolver(catalog *Catalog, locale string) *Resolver {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = "en"
	}
	return &Resolver{catalog: catalog, locale: locale}
}

// Resolve walks the priority chain and stops at the first match:
//
//  1. concrete keyword: exact mapped backend-name match among available voices
//  2. concrete keyword: substring match in the requester's locale, preferring
//     natural voices on ties
//  3. gender-bucket catalog default, falling back to the opposite bucket
//     rather than silently resolving no voice
//  4. any available voice in the requester's locale
//  5. none of the above: ok=false, caller uses the backend's own default
func (r *Resolver) Resolve(hint string, gender persona.Gender, available []VoiceProfile) (VoiceProfile, bool) {
	hint = strings.TrimSpace(hint)
	auto := hint == "" || strings.EqualFold(hint, VoiceHintAuto)

	if !auto {
		if v, ok := r.exactMatch(hint, available); ok {
			return v, true
		}
		if v, ok := r.substringMatch(hint, available); ok {
			return v, true
		}
	}

	if v, ok := r.bucketDefault(gender, available); ok {
		return v, true
	}

	for _, v := range available {
		if localeMatches(v.Locale, r.locale) {
			return v, true
		}
	}

	return VoiceProfile{}, false
}

func (r *Resolver) exactMatch(hint string, available []VoiceProfile) (VoiceProfile, bool) {
	mapped, ok := r.catalog.Lookup(hint)
	if !ok {
		return VoiceProfile{}, false
	}
	for _, v := range available {
		if strings.EqualFold(v.BackendName, mapped.BackendName) {
			return v, true
		}
	}
	return VoiceProfile{}, false
}

func (r *Resolver) substringMatch(hint string, available []VoiceProfile) (VoiceProfile, bool) {
	needle := strings.ToLower(hint)
	var best VoiceProfile
	found := false
	for _, v := range available {
		if !localeMatches(v.Locale, r.locale) {
			continue
		}
		name := strings.ToLower(v.BackendName + " " + v.Keyword)
		if !strings.Contains(name, needle) {
			continue
		}
		if !found || (v.Natural() && !best.Natural()) {
			best = v
			found = true
		}
	}
	return best, found
}

func (r *Resolver) bucketDefault(gender persona.Gender, available []VoiceProfile) (VoiceProfile, bool) {
	if gender == persona.GenderUnknown {
		return VoiceProfile{}, false
	}
	if v, ok := r.firstAvailableInBucket(gender, available); ok {
		return v, true
	}
	// Empty bucket: pick from the opposite bucket instead of failing with
	// no voice at all.
	return r.firstAvailableInBucket(persona.Opposite(gender), available)
}

func (r *Resolver) firstAvailableInBucket(gender persona.Gender, available []VoiceProfile) (VoiceProfile, bool) {
	for _, p := range r.catalog.Bucket(gender) {
		for _, v := range available {
			if strings.EqualFold(v.BackendName, p.BackendName) {
				return v, true
			}
		}
	}
	// Catalog knows nothing about this backend's voice set; fall back to the
	// backend's own gender labels.
	for _, v := range available {
		if v.Gender == gender && localeMatches(v.Locale, r.locale) {
			return v, true
		}
	}
	return VoiceProfile{}, false
}
