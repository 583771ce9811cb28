package llm

import (
	"strings"

	"github.com/snappy-loop/magicstory/internal/codec"
	"github.com/snappy-loop/magicstory/internal/models"
)

// toAudioAsset normalizes speech bytes into a playable asset. Raw PCM
// ("audio/L16;rate=24000") is wrapped in a WAV container; encoded containers pass through.
func toAudioAsset(provider string, data []byte, mimeType string) (*models.AudioAsset, error) {
	if len(data) == 0 {
		return nil, invalidResponse(provider, "no audio data in response")
	}
	mime := strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case codec.IsRawPCM(mime):
		format := codec.ParsePCMMimeType(mimeType)
		if format.BitsPerSample != 16 {
			return nil, invalidResponse(provider, "unsupported PCM bit depth %d", format.BitsPerSample)
		}
		return wrapWAV(provider, data, format.SampleRate)
	case strings.HasPrefix(mime, "audio/wav"), strings.HasPrefix(mime, "audio/x-wav"), strings.HasPrefix(mime, "audio/wave"):
		return &models.AudioAsset{EncodedBytes: data, MimeType: models.MimeWAV}, nil
	case strings.HasPrefix(mime, "audio/mpeg"), strings.HasPrefix(mime, "audio/mp3"):
		return &models.AudioAsset{EncodedBytes: data, MimeType: models.MimeMPEG}, nil
	case mime == "":
		// PCM without a declared type; assume the default rate.
		return wrapWAV(provider, data, codec.DefaultSampleRate)
	default:
		return nil, invalidResponse(provider, "unsupported audio mime type %q", mimeType)
	}
}

// wrapWAV reports codec failures as invalid provider responses.
func wrapWAV(provider string, pcm []byte, sampleRate int) (*models.AudioAsset, error) {
	asset, err := codec.PCMBytesToWAV(pcm, sampleRate)
	if err != nil {
		return nil, &Error{Kind: InvalidResponse, Provider: provider, Err: err}
	}
	return asset, nil
}
