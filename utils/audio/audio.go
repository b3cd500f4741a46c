// Package audio holds the little audio plumbing the relay needs: wrapping raw
// PCM/G.711 frames into WAV for transcription and sanity-checking synthesized
// payloads before they are delivered.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zaf/g711"
)

// Encoding names a raw (headerless) sample encoding.
type Encoding string

const (
	EncodingPCM  Encoding = "pcm"  // 16-bit little endian PCM
	EncodingULaw Encoding = "ulaw" // G.711 μ-law
	EncodingALaw Encoding = "alaw" // G.711 A-law
)

// Containers the transcription service accepts as-is.
var containers = map[string]bool{
	"ogg":  true,
	"oga":  true,
	"wav":  true,
	"mp3":  true,
	"mpga": true,
	"m4a":  true,
	"webm": true,
	"flac": true,
}

// IsContainer reports whether format names a container that can be uploaded
// without conversion.
func IsContainer(format string) bool {
	return containers[strings.ToLower(format)]
}

// Pool for WAV header buffers (44 bytes)
var wavHeaderPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64))
	},
}

// ULawBytesToPCM converts µ-law bytes to PCM bytes
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// ALawBytesToPCM converts A-law bytes to PCM bytes
func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// ToPCM decodes raw frames of the given encoding into 16-bit PCM.
func ToPCM(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingPCM, "":
		return data, nil
	case EncodingULaw:
		return ULawBytesToPCM(data), nil
	case EncodingALaw:
		return ALawBytesToPCM(data), nil
	default:
		return nil, fmt.Errorf("audio: unsupported encoding %q", enc)
	}
}

// RawToWav decodes raw frames and wraps them in a WAV container.
func RawToWav(data []byte, enc Encoding, numChannels, sampleRate int) ([]byte, error) {
	pcm, err := ToPCM(data, enc)
	if err != nil {
		return nil, err
	}
	return PCMBytesToWavBytes(pcm, numChannels, sampleRate)
}

// PCMBytesToWavBytes wraps PCM []byte into WAV []byte (16-bit little endian)
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return nil, err
	}
	if numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}

	buf := wavHeaderPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		wavHeaderPool.Put(buf)
	}()

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	result := make([]byte, buf.Len()+len(pcm))
	copy(result, buf.Bytes())
	copy(result[buf.Len():], pcm)
	return result, nil
}

// ValidatePCMData validates PCM byte array for basic integrity
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if len(pcm)%2 != 0 {
		return errors.New("PCM data must have even length (16-bit samples)")
	}
	if numChannels <= 0 {
		return errors.New("invalid number of channels")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// WAVData returns the "data" chunk of a RIFF/WAVE payload.
func WAVData(wav []byte) ([]byte, error) {
	if len(wav) < 12 || !bytes.HasPrefix(wav, []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		return nil, errors.New("invalid WAV: missing RIFF/WAVE header")
	}

	i := 12
	for i+8 <= len(wav) {
		chunkID := string(wav[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(wav[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		if chunkID == "data" {
			// Streaming encoders may write a placeholder size; clamp to what we have.
			if next > len(wav) || chunkSize == 0xFFFFFFFF {
				next = len(wav)
			}
			return wav[i+8 : next], nil
		}

		// Account for padding to even boundary
		if chunkSize%2 != 0 {
			next++
		}
		if next > len(wav) {
			break
		}
		i = next
	}
	return nil, errors.New("invalid WAV: data chunk not found")
}

// Validate performs a cheap decodability check on a synthesized payload of the
// given format. Only WAV is inspected structurally; other containers must
// merely be non-empty.
func Validate(payload []byte, format string) error {
	if len(payload) == 0 {
		return errors.New("audio payload is empty")
	}
	if strings.EqualFold(format, "wav") {
		data, err := WAVData(payload)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return errors.New("invalid WAV: empty data chunk")
		}
	}
	return nil
}
