package audio

// MixFrame adds frame into acc scaled by gain. acc and frame must have the
// same length; acc is widened so several frames can be summed before clipping.
func MixFrame(acc []int32, frame []int16, gain float64) {
	if gain == 0 {
		return
	}
	for i := range frame {
		if i >= len(acc) {
			return
		}
		acc[i] += int32(float64(frame[i]) * gain)
	}
}

// ClipFrame narrows an accumulated frame back to int16, clipping to range.
func ClipFrame(acc []int32) []int16 {
	out := make([]int16, len(acc))
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
