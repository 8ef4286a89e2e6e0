package audio

import "math"

// fullScale is the divisor used to normalise S32 samples. It is the positive
// maximum, so math.MinInt32 normalises to slightly below -1.
const fullScale = float64(math.MaxInt32)

// Normalize scales every sample of frame into a new NormalizedFrame.
func Normalize(frame PcmFrame) NormalizedFrame {
	return NormalizeInto(make(NormalizedFrame, 0, len(frame)), frame)
}

// NormalizeInto is Normalize reusing dst's backing array. dst is truncated
// first; the returned slice has len(frame) elements.
func NormalizeInto(dst NormalizedFrame, frame PcmFrame) NormalizedFrame {
	dst = dst[:0]
	for _, s := range frame {
		dst = append(dst, float64(s)/fullScale)
	}
	return dst
}

// RMS returns the root-mean-square of frame, or 0 for an empty frame.
func RMS(frame NormalizedFrame) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range frame {
		sumSq += s * s
	}
	return math.Sqrt(sumSq / float64(len(frame)))
}

// FrameLevel normalises frame and returns its RMS level.
func FrameLevel(frame PcmFrame) Level {
	return RMS(Normalize(frame))
}
