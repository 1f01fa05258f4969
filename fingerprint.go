package seatguard

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DeviceFingerprint describes the client a session was created from.
type DeviceFingerprint struct {
	// Hash groups identical fingerprints. Computed from the other fields
	// when left empty.
	Hash             string `json:"hash"`
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
}

// fingerprintFieldCount is the number of fields compared by Similarity.
const fingerprintFieldCount = 5

// HashFingerprint returns a deterministic digest of the five fingerprint fields.
// It is a grouping key, not a security primitive.
func HashFingerprint(fp DeviceFingerprint) string {
	d := xxhash.New()
	for _, field := range [fingerprintFieldCount]string{
		fp.UserAgent,
		fp.ScreenResolution,
		fp.Timezone,
		fp.Language,
		fp.Platform,
	} {
		_, _ = d.WriteString(field)
		// Separator keeps ("ab", "c") and ("a", "bc") apart.
		_, _ = d.Write([]byte{0x1f})
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// withHash returns fp with Hash filled in if it was empty.
func (fp DeviceFingerprint) withHash() DeviceFingerprint {
	if fp.Hash == "" {
		fp.Hash = HashFingerprint(fp)
	}
	return fp
}

// FingerprintSimilarity returns the fraction of the five fingerprint fields
// that match exactly, in [0, 1].
func FingerprintSimilarity(a, b DeviceFingerprint) float64 {
	matches := 0
	if a.UserAgent == b.UserAgent {
		matches++
	}
	if a.ScreenResolution == b.ScreenResolution {
		matches++
	}
	if a.Timezone == b.Timezone {
		matches++
	}
	if a.Language == b.Language {
		matches++
	}
	if a.Platform == b.Platform {
		matches++
	}
	return float64(matches) / fingerprintFieldCount
}

// averagePairwiseSimilarity averages FingerprintSimilarity over every pair.
// Fewer than two fingerprints are trivially identical.
func averagePairwiseSimilarity(fps []DeviceFingerprint) float64 {
	if len(fps) < 2 {
		return 1
	}
	var total float64
	pairs := 0
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			total += FingerprintSimilarity(fps[i], fps[j])
			pairs++
		}
	}
	return total / float64(pairs)
}
