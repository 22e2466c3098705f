package audio

import (
	"fmt"
	"log"
	"time"

	gaudio "github.com/go-audio/audio"

	"docvoice/internal/models"
)

// Track is the assembled audio artifact plus its synchronization data.
type Track struct {
	WAV        []byte
	Duration   time.Duration
	Timestamps []models.TimestampChunk
	// Fallback is set when timestamps came from proportional segment
	// durations instead of detected silence boundaries.
	Fallback bool
}

// Assembler concatenates per-chunk audio segments into one track, injecting a
// fixed silence gap between chunks, and derives per-chunk start/end offsets
// from the silence structure of the result.
type Assembler struct {
	sampleRate int
	gap        time.Duration
	minSilence time.Duration
	threshold  float64 // fraction of full scale treated as silence
}

// NewAssembler configures the assembly parameters.
func NewAssembler(sampleRate, gapMs, minSilenceMs int, threshold float64) *Assembler {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if gapMs <= 0 {
		gapMs = 300
	}
	if minSilenceMs <= 0 {
		minSilenceMs = 200
	}
	if threshold <= 0 {
		threshold = 0.02
	}
	return &Assembler{
		sampleRate: sampleRate,
		gap:        time.Duration(gapMs) * time.Millisecond,
		minSilence: time.Duration(minSilenceMs) * time.Millisecond,
		threshold:  threshold,
	}
}

// Assemble builds the final track for the given chunks and their synthesized
// WAV segments (one per chunk, in chunk order). Segment decode failure is
// fatal because no playable artifact can exist without it; every failure in
// the timestamp analysis instead degrades to the proportional mapping.
func (a *Assembler) Assemble(chunks []models.TextChunk, segments [][]byte) (*Track, error) {
	if len(chunks) == 0 || len(chunks) != len(segments) {
		return nil, fmt.Errorf("chunk/segment count mismatch: %d vs %d", len(chunks), len(segments))
	}

	decoded := make([][]int, len(segments))
	for i, seg := range segments {
		buf, err := decodeWAV(seg, a.sampleRate)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		decoded[i] = buf.Data
	}

	gapSamples := a.samplesFor(a.gap)
	total := (len(chunks) - 1) * gapSamples
	for _, d := range decoded {
		total += len(d)
	}

	samples := make([]int, 0, total)
	for i, d := range decoded {
		if i > 0 {
			samples = append(samples, make([]int, gapSamples)...)
		}
		samples = append(samples, d...)
	}

	wavBytes, err := encodeWAV(&gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: a.sampleRate},
		Data:           samples,
		SourceBitDepth: targetBitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("encode track: %w", err)
	}

	totalDur := a.durationFor(len(samples))
	timestamps, fallback := a.deriveTimestamps(chunks, decoded, samples, gapSamples, totalDur)
	return &Track{
		WAV:        wavBytes,
		Duration:   totalDur,
		Timestamps: timestamps,
		Fallback:   fallback,
	}, nil
}

// deriveTimestamps maps chunk boundaries onto the track. Detected silence is
// a refinement over the known segment durations: when detection comes back
// with fewer intervals than injected gaps, or the boundary matching breaks
// monotonicity, the proportional mapping takes over so the result is always
// total and ordered.
func (a *Assembler) deriveTimestamps(chunks []models.TextChunk, decoded [][]int, samples []int, gapSamples int, totalDur time.Duration) ([]models.TimestampChunk, bool) {
	expected := len(chunks) - 1
	if expected == 0 {
		return []models.TimestampChunk{{Text: chunks[0].Text, Start: 0, End: totalDur.Seconds()}}, false
	}

	intervals := detectSilence(samples, a.samplesFor(a.minSilence), a.thresholdSample())
	if len(intervals) < expected {
		log.Printf("assembler: %d silence intervals for %d gaps, using proportional mapping", len(intervals), expected)
		return a.proportional(chunks, decoded, gapSamples, totalDur), true
	}

	picks, ok := matchGaps(intervals, a.nominalGapCenters(decoded, gapSamples))
	if !ok {
		log.Printf("assembler: silence intervals could not be matched to gaps, using proportional mapping")
		return a.proportional(chunks, decoded, gapSamples, totalDur), true
	}

	// End-of-speech convention: a chunk ends where the following silence
	// starts, and the next chunk starts where that silence ends, so the
	// highlight is off during gaps.
	out := make([]models.TimestampChunk, len(chunks))
	start := 0.0
	for i := range chunks {
		var end float64
		if i < expected {
			end = a.durationFor(picks[i].start).Seconds()
		} else {
			end = totalDur.Seconds()
		}
		if end < start {
			log.Printf("assembler: non-monotonic detected boundaries, using proportional mapping")
			return a.proportional(chunks, decoded, gapSamples, totalDur), true
		}
		out[i] = models.TimestampChunk{Text: chunks[i].Text, Start: start, End: end}
		if i < expected {
			start = a.durationFor(picks[i].end).Seconds()
		}
	}
	return out, false
}

// proportional assigns each chunk its synthesized duration, attributing each
// injected gap to the boundary between neighbours. The last end lands exactly
// on the track duration.
func (a *Assembler) proportional(chunks []models.TextChunk, decoded [][]int, gapSamples int, totalDur time.Duration) []models.TimestampChunk {
	out := make([]models.TimestampChunk, len(chunks))
	pos := 0
	for i := range chunks {
		start := a.durationFor(pos).Seconds()
		pos += len(decoded[i])
		end := a.durationFor(pos).Seconds()
		if i == len(chunks)-1 {
			end = totalDur.Seconds()
		}
		out[i] = models.TimestampChunk{Text: chunks[i].Text, Start: start, End: end}
		pos += gapSamples
	}
	return out
}

// nominalGapCenters returns the expected midpoint of every injected gap.
func (a *Assembler) nominalGapCenters(decoded [][]int, gapSamples int) []int {
	centers := make([]int, 0, len(decoded)-1)
	pos := 0
	for i := 0; i < len(decoded)-1; i++ {
		pos += len(decoded[i])
		centers = append(centers, pos+gapSamples/2)
		pos += gapSamples
	}
	return centers
}

func (a *Assembler) samplesFor(d time.Duration) int {
	return int(d.Seconds() * float64(a.sampleRate))
}

func (a *Assembler) durationFor(samples int) time.Duration {
	return time.Duration(float64(samples) / float64(a.sampleRate) * float64(time.Second))
}

func (a *Assembler) thresholdSample() int {
	return int(a.threshold * float64(int(1)<<(targetBitDepth-1)))
}

type silenceInterval struct {
	start, end int // sample offsets, half-open
}

func (s silenceInterval) mid() int {
	return (s.start + s.end) / 2
}

// detectSilence scans for runs of samples at or below the amplitude threshold
// lasting at least minSamples.
func detectSilence(samples []int, minSamples, threshold int) []silenceInterval {
	var out []silenceInterval
	start := -1
	for i, s := range samples {
		if abs(s) <= threshold {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minSamples {
			out = append(out, silenceInterval{start: start, end: i})
		}
		start = -1
	}
	if start >= 0 && len(samples)-start >= minSamples {
		out = append(out, silenceInterval{start: start, end: len(samples)})
	}
	return out
}

// matchGaps picks, for each nominal gap center in order, the closest detected
// interval not already taken. Natural pauses inside synthesized speech show
// up as extra intervals; anchoring on the nominal positions keeps them from
// shifting the mapping. Fails when picks stop being strictly ordered.
func matchGaps(intervals []silenceInterval, centers []int) ([]silenceInterval, bool) {
	picks := make([]silenceInterval, 0, len(centers))
	next := 0
	for _, center := range centers {
		best := -1
		for k := next; k < len(intervals); k++ {
			if best < 0 || abs(intervals[k].mid()-center) < abs(intervals[best].mid()-center) {
				best = k
			}
		}
		if best < 0 {
			return nil, false
		}
		picks = append(picks, intervals[best])
		next = best + 1
	}
	for i := 1; i < len(picks); i++ {
		if picks[i].start < picks[i-1].end {
			return nil, false
		}
	}
	return picks, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
