package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const targetBitDepth = 16

// WAVDuration reads the playable length of a WAV blob without keeping the
// PCM data around.
func WAVDuration(data []byte) (time.Duration, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return 0, errors.New("invalid wav data")
	}
	return d.Duration()
}

// decodeWAV produces a mono 16-bit buffer at the requested sample rate,
// resampling and downmixing as needed.
func decodeWAV(data []byte, sampleRate int) (*gaudio.IntBuffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, errors.New("invalid wav data")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || len(buf.Data) == 0 {
		return nil, errors.New("empty wav data")
	}

	if buf.Format.NumChannels > 1 {
		buf = downmixMono(buf)
	}
	if buf.SourceBitDepth != 0 && buf.SourceBitDepth != targetBitDepth {
		rescaleDepth(buf, buf.SourceBitDepth)
	}
	if buf.Format.SampleRate != sampleRate {
		buf.Data = resamplePCM(buf.Data, buf.Format.SampleRate, sampleRate)
		buf.Format = &gaudio.Format{NumChannels: 1, SampleRate: sampleRate}
	}
	buf.SourceBitDepth = targetBitDepth
	return buf, nil
}

// encodeWAV writes the buffer out as a 16-bit PCM WAV file. The wav encoder
// needs a seekable writer, so this goes through a scratch file.
func encodeWAV(buf *gaudio.IntBuffer) ([]byte, error) {
	f, err := os.CreateTemp("", "docvoice-*.wav")
	if err != nil {
		return nil, fmt.Errorf("encode scratch file: %w", err)
	}
	defer os.Remove(f.Name())

	enc := wav.NewEncoder(f, buf.Format.SampleRate, targetBitDepth, buf.Format.NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Name())
}

// downmixMono averages all channels into one.
func downmixMono(buf *gaudio.IntBuffer) *gaudio.IntBuffer {
	numChannels := buf.Format.NumChannels
	numSamples := len(buf.Data) / numChannels
	monoData := make([]int, numSamples)
	for i := 0; i < numSamples; i++ {
		sum := 0
		for ch := 0; ch < numChannels; ch++ {
			sum += buf.Data[i*numChannels+ch]
		}
		monoData[i] = sum / numChannels
	}
	return &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: 1,
			SampleRate:  buf.Format.SampleRate,
		},
		Data:           monoData,
		SourceBitDepth: buf.SourceBitDepth,
	}
}

// rescaleDepth shifts samples from their source bit depth to 16 bits.
func rescaleDepth(buf *gaudio.IntBuffer, sourceDepth int) {
	shift := sourceDepth - targetBitDepth
	if shift == 0 {
		return
	}
	for i, s := range buf.Data {
		if shift > 0 {
			buf.Data[i] = s >> shift
		} else {
			buf.Data[i] = s << (-shift)
		}
	}
}

// resamplePCM is a linear-interpolation resampler. Synthesized speech does
// not need a windowed-sinc pass before silence analysis.
func resamplePCM(pcmData []int, srcRate, dstRate int) []int {
	ratio := float64(dstRate) / float64(srcRate)
	outputLength := int(float64(len(pcmData)) * ratio)
	output := make([]int, outputLength)

	for i := range output {
		srcIdx := float64(i) / ratio
		idx1 := int(srcIdx)
		if idx1 >= len(pcmData)-1 {
			output[i] = pcmData[len(pcmData)-1]
			continue
		}
		frac := srcIdx - float64(idx1)
		output[i] = int(float64(pcmData[idx1])*(1-frac) + float64(pcmData[idx1+1])*frac)
	}
	return output
}
