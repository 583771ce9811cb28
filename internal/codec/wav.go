package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/snappy-loop/magicstory/internal/models"
)

const (
	wavHeaderSize = 44
	pcmFormat     = 1
	monoChannels  = 1
	bitsPerSample = 16
	blockAlign    = monoChannels * bitsPerSample / 8
)

// MalformedAudioError is returned when samples or their declared format cannot
// form a valid container.
type MalformedAudioError struct {
	Reason string
}

func (e *MalformedAudioError) Error() string {
	return "malformed audio: " + e.Reason
}

// Header is the fmt/data information carried by a WAV container.
type Header struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	DataSize      int
}

// Samples returns the number of sample frames in the data chunk.
func (h Header) Samples() int {
	if h.BlockAlign == 0 {
		return 0
	}
	return h.DataSize / h.BlockAlign
}

// PCM16ToWAV wraps mono 16-bit samples in a WAV container. Output is a pure
// function of its input.
func PCM16ToWAV(samples []int16, sampleRate int) (*models.AudioAsset, error) {
	if len(samples) == 0 {
		return nil, &MalformedAudioError{Reason: "no samples"}
	}
	if sampleRate <= 0 {
		return nil, &MalformedAudioError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}

	dataSize := len(samples) * blockAlign
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))
	writeHeader(buf, sampleRate, dataSize)
	binary.Write(buf, binary.LittleEndian, samples)

	return &models.AudioAsset{
		EncodedBytes: buf.Bytes(),
		MimeType:     models.MimeWAV,
	}, nil
}

// PCMBytesToWAV interprets raw little-endian 16-bit PCM bytes (as speech
// providers return them) and wraps them in a WAV container.
func PCMBytesToWAV(pcm []byte, sampleRate int) (*models.AudioAsset, error) {
	if len(pcm)%blockAlign != 0 {
		return nil, &MalformedAudioError{Reason: fmt.Sprintf("odd PCM byte length %d", len(pcm))}
	}
	samples := make([]int16, len(pcm)/blockAlign)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return PCM16ToWAV(samples, sampleRate)
}

func writeHeader(buf *bytes.Buffer, sampleRate, dataSize int) {
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(pcmFormat))
	binary.Write(buf, binary.LittleEndian, uint16(monoChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
}

// ReadHeader parses the canonical 44-byte header written by PCM16ToWAV.
func ReadHeader(b []byte) (Header, error) {
	if len(b) < wavHeaderSize {
		return Header{}, &MalformedAudioError{Reason: fmt.Sprintf("container too short (%d bytes)", len(b))}
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Header{}, &MalformedAudioError{Reason: "missing RIFF/WAVE magic"}
	}
	if string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return Header{}, &MalformedAudioError{Reason: "unexpected chunk layout"}
	}

	le := binary.LittleEndian
	h := Header{
		AudioFormat:   int(le.Uint16(b[20:22])),
		Channels:      int(le.Uint16(b[22:24])),
		SampleRate:    int(le.Uint32(b[24:28])),
		ByteRate:      int(le.Uint32(b[28:32])),
		BlockAlign:    int(le.Uint16(b[32:34])),
		BitsPerSample: int(le.Uint16(b[34:36])),
		DataSize:      int(le.Uint32(b[40:44])),
	}
	if h.DataSize > len(b)-wavHeaderSize {
		return Header{}, &MalformedAudioError{Reason: "data chunk exceeds container"}
	}
	return h, nil
}
