package engine

import "math"

// floatBufferTo16BitLE converts a float32 buffer to 16-bit little-endian
// integer samples, clipping out-of-range values. dst must hold 2 bytes per
// sample.
func floatBufferTo16BitLE(buf []float32, dst []byte) {
	for i, v := range buf {
		var uv int16
		if v < -1.0 {
			uv = -math.MaxInt16
		} else if v > 1.0 {
			uv = math.MaxInt16
		} else {
			uv = int16(v * math.MaxInt16)
		}
		dst[i*2] = byte(uv)
		dst[i*2+1] = byte(uv >> 8)
	}
}
