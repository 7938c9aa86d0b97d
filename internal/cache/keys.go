package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Keys are content hashes: the same input with the same output-affecting
// parameters always maps to the same key, and any parameter that changes
// the produced audio or text is part of the hash. Fields are joined with
// NUL so "ab"+"c" and "a"+"bc" cannot collide.

// SynthesisParams are the parameters that change synthesized audio for
// identical input text.
type SynthesisParams struct {
	Voice      string
	Format     string
	SampleRate int
	Rate       string
	Pitch      string
	Volume     string
}

// SynthesisKey derives the cache key for one synthesis request.
func SynthesisKey(text string, p SynthesisParams) string {
	return hashKey(
		"synthesis",
		NormalizeText(text),
		p.Voice,
		p.Format,
		strconv.Itoa(p.SampleRate),
		p.Rate,
		p.Pitch,
		p.Volume,
	)
}

// TranscriptKey derives the cache key for a recognition result over a
// complete utterance.
func TranscriptKey(audio []byte, language, model string) string {
	sum := sha256.Sum256(audio)
	return hashKey(
		"transcript",
		hex.EncodeToString(sum[:]),
		language,
		model,
	)
}

// NormalizeText collapses runs of whitespace and trims the ends, so
// formatting differences in reply text do not fragment the cache. Case
// is preserved because it affects synthesized prosody.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
