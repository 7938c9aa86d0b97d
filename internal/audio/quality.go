package audio

import (
	"encoding/binary"
	"math"
)

// QualityScore is the advisory per-chunk signal quality in [0,1]. It is
// never used to drop audio, only to annotate it (low-quality chunks are
// still forwarded to recognition).
type QualityScore struct {
	RMS   float64 `json:"rms"`
	SNR   float64 `json:"snr_db"`
	Score float64 `json:"score"`
}

// ScoreQuality computes RMS amplitude and a crude signal-to-noise
// estimate over 16-bit PCM. The noise floor is approximated by the mean
// magnitude of the quietest decile of samples.
func ScoreQuality(data []byte) QualityScore {
	n := len(data) / 2
	if n == 0 {
		return QualityScore{}
	}

	var sumSquares float64
	magnitudes := make([]float64, n)
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
		sumSquares += s * s
		magnitudes[i] = math.Abs(s)
	}
	rms := math.Sqrt(sumSquares / float64(n))

	noise := noiseFloor(magnitudes)
	snr := 0.0
	if noise > 0 && rms > 0 {
		snr = 20 * math.Log10(rms/noise)
	}

	return QualityScore{
		RMS:   rms,
		SNR:   snr,
		Score: combineScore(rms, snr),
	}
}

// noiseFloor estimates background noise as the average magnitude of the
// quietest tenth of samples, found with a coarse histogram rather than a
// full sort.
func noiseFloor(magnitudes []float64) float64 {
	const buckets = 64
	var hist [buckets]int
	for _, m := range magnitudes {
		idx := int(m * buckets)
		if idx >= buckets {
			idx = buckets - 1
		}
		hist[idx]++
	}

	quota := len(magnitudes) / 10
	if quota == 0 {
		quota = 1
	}

	var count int
	var sum float64
	for b := 0; b < buckets && count < quota; b++ {
		take := hist[b]
		if count+take > quota {
			take = quota - count
		}
		mid := (float64(b) + 0.5) / buckets
		sum += mid * float64(take)
		count += take
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// combineScore folds RMS and SNR into a single advisory value. Very quiet
// audio scores near zero regardless of SNR; loud clean audio approaches 1.
func combineScore(rms, snr float64) float64 {
	level := math.Min(rms/0.1, 1.0)
	clarity := math.Min(math.Max(snr/30.0, 0), 1.0)
	score := 0.5*level + 0.5*clarity
	return math.Min(math.Max(score, 0), 1)
}
