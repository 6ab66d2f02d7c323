package worker

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV reads a WAV container, validating it and extracting 16-bit
// mono PCM samples plus the sample rate recorded in its header. Stereo
// input is downmixed to mono by averaging channels, mirroring how the
// original server's Python/Kaldi tooling always assumes a single
// channel at the decoder boundary.
func DecodeWAV(r io.Reader) (samples []int16, sampleRateHz float64, err error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("worker: not a valid WAV file")
	}

	numChannels := int(dec.NumChans)
	if numChannels == 0 {
		numChannels = 1
	}

	// go-audio reports raw sample magnitudes at the file's native bit
	// depth; shift everything down to 16-bit range before truncating to
	// int16, the way a 16-bit-only decoder needs it.
	var shift uint
	switch dec.BitDepth {
	case 16:
		shift = 0
	case 24:
		shift = 8
	case 32:
		shift = 16
	default:
		return nil, 0, fmt.Errorf("worker: unsupported WAV bit depth %d", dec.BitDepth)
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, 16384),
		Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: numChannels},
	}

	var out []int16
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			return nil, 0, fmt.Errorf("worker: read PCM: %w", err)
		}
		if n == 0 {
			break
		}
		for i := 0; i < n; i += numChannels {
			var sum int
			for c := 0; c < numChannels && i+c < n; c++ {
				sum += buf.Data[i+c] >> shift
			}
			out = append(out, int16(sum/numChannels))
		}
		if err == io.EOF {
			break
		}
	}

	return out, float64(dec.SampleRate), nil
}

// BytesToSamples interprets raw as little-endian 16-bit mono PCM, the
// format the original decoder's raw-audio RPC path expects directly
// without any header to parse.
func BytesToSamples(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return out
}
