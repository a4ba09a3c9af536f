package dsp

// Noise is a 15-bit LFSR white noise source. Each voice owns one so voices
// rendered on the same goroutine never share state.
type Noise struct {
	reg uint32
}

func NewNoise(seed uint32) Noise {
	if seed&0x7FFF == 0 {
		seed = 0x7FFF
	}
	return Noise{reg: seed & 0x7FFF}
}

func (n *Noise) Next() float64 {
	if n.reg == 0 {
		n.reg = 0x7FFF
	}
	bit := (n.reg ^ (n.reg >> 1)) & 1
	n.reg = (n.reg >> 1) | (bit << 14)
	return float64(n.reg)/float64(0x3FFF) - 1
}
