package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatBufferTo16BitLE(t *testing.T) {
	buf := []float32{0, 1, -1, 0.5, 2, -2}
	dst := make([]byte, len(buf)*2)
	floatBufferTo16BitLE(buf, dst)

	decode := func(i int) int16 {
		return int16(dst[i*2]) | int16(dst[i*2+1])<<8
	}
	assert.EqualValues(t, 0, decode(0))
	assert.EqualValues(t, math.MaxInt16, decode(1))
	assert.EqualValues(t, -math.MaxInt16, decode(2))
	assert.EqualValues(t, int16(buf[3]*math.MaxInt16), decode(3))
	assert.EqualValues(t, math.MaxInt16, decode(4), "clips above full scale")
	assert.EqualValues(t, -math.MaxInt16, decode(5), "clips below full scale")
}
