package playback

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"github.com/snappy-loop/magicstory/internal/codec"
	"github.com/snappy-loop/magicstory/internal/models"
)

// readSeekNopCloser lets an in-memory asset satisfy the decoders' ReadCloser
// while keeping it seekable.
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

// decode opens an asset as a seekable stream. Any failure is reported as
// ErrPlaybackUnavailable, wrapping the codec or decoder error.
func decode(asset *models.AudioAsset) (beep.StreamSeekCloser, beep.Format, error) {
	if asset == nil || len(asset.EncodedBytes) == 0 {
		return nil, beep.Format{}, fmt.Errorf("%w: %w", ErrPlaybackUnavailable, errors.New("no audio loaded"))
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch mime := strings.ToLower(asset.MimeType); {
	case strings.HasPrefix(mime, models.MimeWAV):
		stream, format, err = wav.Decode(bytes.NewReader(asset.EncodedBytes))
		if err != nil {
			// Prefer the typed diagnosis for canonical headers.
			if _, headerErr := codec.ReadHeader(asset.EncodedBytes); headerErr != nil {
				err = headerErr
			}
		}
	case strings.HasPrefix(mime, models.MimeMPEG):
		stream, format, err = mp3.Decode(readSeekNopCloser{bytes.NewReader(asset.EncodedBytes)})
	default:
		err = fmt.Errorf("unsupported audio type %q", asset.MimeType)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("%w: %w", ErrPlaybackUnavailable, err)
	}
	return stream, format, nil
}
