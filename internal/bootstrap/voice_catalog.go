package bootstrap

import (
	"strings"

	"pdf-audiobook/internal/domain"
)

// espeakVoicePresets are curated espeak-ng voices shown when the engine
// cannot be probed, for example before it is installed. Availability is
// confirmed only by a live listing.
var espeakVoicePresets = []domain.VoiceOption{
	{ID: "en-us", Name: "English (America)", Language: "en-us", Gender: "male"},
	{ID: "en-gb", Name: "English (Great Britain)", Language: "en-gb", Gender: "male"},
	{ID: "de", Name: "German", Language: "de", Gender: "male"},
	{ID: "fr-fr", Name: "French (France)", Language: "fr-fr", Gender: "male"},
	{ID: "es", Name: "Spanish (Spain)", Language: "es", Gender: "male"},
	{ID: "it", Name: "Italian", Language: "it", Gender: "male"},
	{ID: "pt", Name: "Portuguese (Portugal)", Language: "pt", Gender: "male"},
	{ID: "nl", Name: "Dutch", Language: "nl", Gender: "male"},
	{ID: "pl", Name: "Polish", Language: "pl", Gender: "male"},
	{ID: "ru", Name: "Russian", Language: "ru", Gender: "male"},
	{ID: "zh", Name: "Chinese (Mandarin)", Language: "zh", Gender: "male"},
	{ID: "ja", Name: "Japanese", Language: "ja", Gender: "male"},
}

// voiceCatalog returns a copy of the preset list so callers can mutate
// availability without touching the shared slice.
func voiceCatalog() []domain.VoiceOption {
	voices := make([]domain.VoiceOption, len(espeakVoicePresets))
	copy(voices, espeakVoicePresets)
	return voices
}

// mergeVoices overlays a live engine listing on the preset catalog.
// Presets confirmed by the engine become available and keep their
// curated labels; voices the catalog does not know are appended as-is.
func mergeVoices(catalog, listed []domain.VoiceOption) []domain.VoiceOption {
	byID := make(map[string]int, len(catalog))
	for i, voice := range catalog {
		byID[normalizeVoiceID(voice.ID)] = i
	}

	merged := catalog
	for _, voice := range listed {
		if i, ok := byID[normalizeVoiceID(voice.ID)]; ok {
			merged[i].Available = true
			if merged[i].Gender == "" {
				merged[i].Gender = voice.Gender
			}
			continue
		}
		voice.Available = true
		merged = append(merged, voice)
	}
	return merged
}

// normalizeVoiceID canonicalizes engine voice identifiers for matching.
func normalizeVoiceID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
