package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// VoiceSettings selects the synthesis voice and delivery parameters
// for one conversion job.
type VoiceSettings struct {
	VoiceID string  `json:"voiceId"`
	RateWPM int     `json:"rateWpm"`
	Volume  float64 `json:"volume"`
}

// Hash returns a short stable digest of the voice parameters. Cached
// audio is keyed on it, so any change in voice, rate, or volume maps
// to a different cache entry.
func (v VoiceSettings) Hash() string {
	canonical := v.VoiceID + "|" + strconv.Itoa(v.RateWPM) + "|" + strconv.FormatFloat(v.Volume, 'f', 3, 64)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:4])
}

// VoiceOption describes one selectable synthesis voice.
type VoiceOption struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Language  string `json:"language,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Available bool   `json:"available"`
}
