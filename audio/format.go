package audio

import (
	"strings"
	"time"
)

// DefaultFormat tells the recorder to use whatever container the platform picks
const DefaultFormat = ""

// ChunkInterval is the cadence at which a streaming recorder hands over audio
const ChunkInterval = 250 * time.Millisecond

// RecordingFormats lists recorder formats from most to least preferred
var RecordingFormats = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/mp4",
	"audio/aac",
	"audio/wav",
}

// Constraints are the capture settings requested from the microphone
type Constraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
	SampleRate       int  `json:"sampleRate"`
	ChannelCount     int  `json:"channelCount"`
}

// SelectRecordingFormat returns the first preferred format the runtime supports,
// or DefaultFormat when none is supported.
func SelectRecordingFormat(supported func(format string) bool) string {
	if supported == nil {
		return DefaultFormat
	}
	for _, format := range RecordingFormats {
		if supported(format) {
			return format
		}
	}
	return DefaultFormat
}

// SelectConstraints returns mono capture settings. Constrained mobile devices
// misbehave below their native 48 kHz rate, everything else records at 16 kHz.
func SelectConstraints(constrainedMobile bool) Constraints {
	rate := 16000
	if constrainedMobile {
		rate = 48000
	}
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       rate,
		ChannelCount:     1,
	}
}

// IsConstrainedMobile reports whether a user agent belongs to an iOS device
func IsConstrainedMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"iphone", "ipad", "ipod"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// SupportedFormats builds a capability check from the formats a client reports
func SupportedFormats(formats []string) func(string) bool {
	set := make(map[string]struct{}, len(formats))
	for _, f := range formats {
		set[normalizeFormat(f)] = struct{}{}
	}
	return func(format string) bool {
		_, ok := set[normalizeFormat(format)]
		return ok
	}
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.ReplaceAll(format, " ", ""))
}
