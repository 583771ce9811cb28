package codec

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
)

// DefaultSampleRate is assumed when a PCM MIME type does not declare a rate.
const DefaultSampleRate = 16000

// EncodingError is returned for payloads that are not valid base64.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "invalid base64 payload: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// DecodeBase64 decodes standard or URL-safe base64, padded or not,
// tolerating surrounding whitespace.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	enc := base64.RawStdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return b, nil
}

// PCMFormat describes raw PCM declared by a MIME type such as "audio/L16;rate=24000".
type PCMFormat struct {
	BitsPerSample int
	SampleRate    int
}

var linearPCMRe = regexp.MustCompile(`(?i)^audio/L(\d+)$`)

// IsRawPCM reports whether mimeType declares headerless linear PCM.
func IsRawPCM(mimeType string) bool {
	base := strings.TrimSpace(strings.Split(mimeType, ";")[0])
	return linearPCMRe.MatchString(base) || strings.EqualFold(base, "audio/pcm")
}

// ParsePCMMimeType extracts bit depth and sample rate, defaulting to 16-bit at
// DefaultSampleRate.
func ParsePCMMimeType(mimeType string) PCMFormat {
	f := PCMFormat{BitsPerSample: 16, SampleRate: DefaultSampleRate}

	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if rate, err := strconv.Atoi(part[len("rate="):]); err == nil {
				f.SampleRate = rate
			}
		} else if m := linearPCMRe.FindStringSubmatch(part); len(m) > 1 {
			if bits, err := strconv.Atoi(m[1]); err == nil {
				f.BitsPerSample = bits
			}
		}
	}
	return f
}
