package llm

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/retry"
	"google.golang.org/api/option"
)

// maxSynthesisBytes stays a little under the 5000 byte input limit of SynthesizeSpeech.
const maxSynthesisBytes = 4800

// CloudSpeech narrates with Google Cloud Text-to-Speech over gRPC, returning MP3.
type CloudSpeech struct {
	synthesize func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
	close      func() error
	voices     VoiceTable
	policy     retry.Policy
}

// NewCloudSpeech creates the Cloud TTS provider. gRPC traffic cannot use the
// retrying transport, so each chunk is retried with retry.Do and the same policy.
func NewCloudSpeech(ctx context.Context, apiKey, endpoint string, voices VoiceTable, policy retry.Policy) (*CloudSpeech, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: "cloudtts", Reason: "GOOGLE_TTS_API_KEY is not set"}
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, &ConfigurationError{Provider: "cloudtts", Reason: "failed to create TTS client: " + err.Error()}
	}

	log.Info().Msg("Cloud TTS speech provider initialized")
	return &CloudSpeech{
		synthesize: func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
			return client.SynthesizeSpeech(ctx, req)
		},
		close:  client.Close,
		voices: voices,
		policy: policy,
	}, nil
}

func (c *CloudSpeech) Name() string { return "cloudtts" }

// Close releases the gRPC connection.
func (c *CloudSpeech) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Synthesize narrates text chunk by chunk and concatenates the MP3 frames.
func (c *CloudSpeech) Synthesize(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error) {
	voice := c.voices.Voice(lang)
	chunks := splitNarration(text, maxSynthesisBytes)
	if len(chunks) == 0 {
		return nil, invalidResponse(c.Name(), "nothing to narrate")
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		req := &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: chunk},
			},
			Voice: &texttospeechpb.VoiceSelectionParams{
				LanguageCode: voiceLanguageCode(voice),
				Name:         voice,
			},
			AudioConfig: &texttospeechpb.AudioConfig{
				AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			},
		}

		var resp *texttospeechpb.SynthesizeSpeechResponse
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			r, err := c.synthesize(ctx, req)
			if err != nil {
				if !retryableGRPC(err) {
					return retry.Permanent(err)
				}
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, classify(c.Name(), fmt.Errorf("failed to synthesize chunk %d/%d: %w", i+1, len(chunks), err))
		}
		audio.Write(resp.AudioContent)
	}

	log.Info().
		Int("audio_size_bytes", audio.Len()).
		Int("chunks", len(chunks)).
		Str("voice", voice).
		Msg("Narration audio generated")
	return toAudioAsset(c.Name(), audio.Bytes(), models.MimeMPEG)
}

// splitNarration packs lines into chunks of at most limit bytes, splitting
// oversized lines on rune boundaries.
func splitNarration(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}
