// Copyright 2025 Milspect, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audio loads WAV files into the sample format the transcription
// pipeline expects: float32, mono, 16 kHz.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// SampleRate is the sample rate the transcription models are trained on.
const SampleRate = 16000

const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// DecodeWAV parses a RIFF/WAVE file and returns mono float32 samples at
// 16 kHz. Multi-channel audio is averaged down to mono; other sample rates
// are linearly resampled.
func DecodeWAV(data []byte) ([]float32, error) {
	reader := bytes.NewReader(data)

	var riffHeader [4]byte
	if _, err := io.ReadFull(reader, riffHeader[:]); err != nil {
		return nil, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riffHeader[:]) != "RIFF" {
		return nil, fmt.Errorf("not a RIFF file")
	}

	var fileSize uint32
	if err := binary.Read(reader, binary.LittleEndian, &fileSize); err != nil {
		return nil, fmt.Errorf("reading file size: %w", err)
	}

	var waveHeader [4]byte
	if _, err := io.ReadFull(reader, waveHeader[:]); err != nil {
		return nil, fmt.Errorf("reading WAVE header: %w", err)
	}
	if string(waveHeader[:]) != "WAVE" {
		return nil, fmt.Errorf("not a WAVE file")
	}

	var audioFormat, numChannels uint16
	var sampleRate, byteRate uint32
	var blockAlign, bitsPerSample uint16
	var audioData []byte

	for {
		var chunkID [4]byte
		if _, err := io.ReadFull(reader, chunkID[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("reading chunk ID: %w", err)
		}

		var chunkSize uint32
		if err := binary.Read(reader, binary.LittleEndian, &chunkSize); err != nil {
			return nil, fmt.Errorf("reading chunk size: %w", err)
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if err := binary.Read(reader, binary.LittleEndian, &audioFormat); err != nil {
				return nil, fmt.Errorf("reading audio format: %w", err)
			}
			if err := binary.Read(reader, binary.LittleEndian, &numChannels); err != nil {
				return nil, fmt.Errorf("reading num channels: %w", err)
			}
			if err := binary.Read(reader, binary.LittleEndian, &sampleRate); err != nil {
				return nil, fmt.Errorf("reading sample rate: %w", err)
			}
			if err := binary.Read(reader, binary.LittleEndian, &byteRate); err != nil {
				return nil, fmt.Errorf("reading byte rate: %w", err)
			}
			if err := binary.Read(reader, binary.LittleEndian, &blockAlign); err != nil {
				return nil, fmt.Errorf("reading block align: %w", err)
			}
			if err := binary.Read(reader, binary.LittleEndian, &bitsPerSample); err != nil {
				return nil, fmt.Errorf("reading bits per sample: %w", err)
			}
			// Skip any extra format bytes
			remaining := int(chunkSize) - 16
			if remaining > 0 {
				reader.Seek(int64(remaining), io.SeekCurrent)
			}

		case "data":
			audioData = make([]byte, chunkSize)
			if _, err := io.ReadFull(reader, audioData); err != nil {
				return nil, fmt.Errorf("reading audio data: %w", err)
			}

		default:
			// Skip unknown chunks
			reader.Seek(int64(chunkSize), io.SeekCurrent)
		}

		// RIFF chunks are word-aligned: an odd-sized payload is followed by
		// a pad byte that is not counted in chunkSize.
		if chunkSize%2 == 1 {
			reader.Seek(1, io.SeekCurrent)
		}
	}

	if audioData == nil {
		return nil, fmt.Errorf("no audio data found")
	}
	if numChannels == 0 {
		return nil, fmt.Errorf("no format chunk found")
	}

	var samples []float32
	var err error
	switch audioFormat {
	case formatPCM:
		samples, err = pcmToSamples(audioData, int(bitsPerSample), int(numChannels))
	case formatIEEEFloat:
		samples, err = floatToSamples(audioData, int(bitsPerSample), int(numChannels))
	default:
		return nil, fmt.Errorf("unsupported audio format %d (only PCM and IEEE float supported)", audioFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("converting to samples: %w", err)
	}

	if int(sampleRate) != SampleRate {
		samples = resample(samples, int(sampleRate), SampleRate)
	}

	return samples, nil
}

// pcmToSamples converts integer PCM bytes to float32 samples in [-1, 1],
// averaging channels down to mono.
func pcmToSamples(data []byte, bitsPerSample, numChannels int) ([]float32, error) {
	bytesPerSample := bitsPerSample / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
	}
	numSamples := len(data) / (bytesPerSample * numChannels)
	samples := make([]float32, numSamples)

	reader := bytes.NewReader(data)

	for i := 0; i < numSamples; i++ {
		var sampleSum float64
		for ch := 0; ch < numChannels; ch++ {
			var sample float64
			switch bitsPerSample {
			case 8:
				var s uint8
				if err := binary.Read(reader, binary.LittleEndian, &s); err != nil {
					return nil, fmt.Errorf("reading sample %d: %w", i, err)
				}
				// 8-bit WAV is unsigned, centered at 128
				sample = (float64(s) - 128) / 128.0
			case 16:
				var s int16
				if err := binary.Read(reader, binary.LittleEndian, &s); err != nil {
					return nil, fmt.Errorf("reading sample %d: %w", i, err)
				}
				sample = float64(s) / 32768.0
			case 24:
				var buf [3]byte
				if _, err := io.ReadFull(reader, buf[:]); err != nil {
					return nil, fmt.Errorf("reading sample %d: %w", i, err)
				}
				s := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16
				if s&0x800000 != 0 {
					s |= -0x1000000 // sign extend
				}
				sample = float64(s) / 8388608.0
			case 32:
				var s int32
				if err := binary.Read(reader, binary.LittleEndian, &s); err != nil {
					return nil, fmt.Errorf("reading sample %d: %w", i, err)
				}
				sample = float64(s) / 2147483648.0
			default:
				return nil, fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
			}
			sampleSum += sample
		}
		samples[i] = float32(sampleSum / float64(numChannels))
	}

	return samples, nil
}

// floatToSamples converts IEEE float32 PCM bytes to samples, averaging
// channels down to mono.
func floatToSamples(data []byte, bitsPerSample, numChannels int) ([]float32, error) {
	if bitsPerSample != 32 {
		return nil, fmt.Errorf("unsupported float bits per sample: %d", bitsPerSample)
	}
	numSamples := len(data) / (4 * numChannels)
	samples := make([]float32, numSamples)

	reader := bytes.NewReader(data)

	for i := 0; i < numSamples; i++ {
		var sampleSum float64
		for ch := 0; ch < numChannels; ch++ {
			var s float32
			if err := binary.Read(reader, binary.LittleEndian, &s); err != nil {
				return nil, fmt.Errorf("reading sample %d: %w", i, err)
			}
			sampleSum += float64(s)
		}
		samples[i] = float32(sampleSum / float64(numChannels))
	}

	return samples, nil
}

// resample performs simple linear interpolation resampling.
func resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	resampled := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcIdx := float64(i) * ratio
		srcIdxInt := int(srcIdx)
		frac := float32(srcIdx - float64(srcIdxInt))

		if srcIdxInt+1 < len(samples) {
			resampled[i] = samples[srcIdxInt]*(1-frac) + samples[srcIdxInt+1]*frac
		} else if srcIdxInt < len(samples) {
			resampled[i] = samples[srcIdxInt]
		}
	}

	return resampled
}
