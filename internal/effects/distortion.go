package effects

import "math"

// Distortion is a tanh waveshaper blended with the dry signal and followed by
// a one-pole lowpass that tames the added harmonics.
type Distortion struct {
	drive      *Param
	saturation *Param
	lpfAlpha   float32
	lpfL, lpfR float32
}

// NewDistortion creates a waveshaper. drive is the pre-gain (1..10),
// saturation the wet amount (0..1), toneHz the post filter cutoff (0 disables).
func NewDistortion(sampleRate int, drive, saturation, toneHz float32) *Distortion {
	return &Distortion{
		drive:      NewParam(clamp(drive, 1, 10)),
		saturation: NewParam(clamp(saturation, 0, 1)),
		lpfAlpha:   onePoleAlpha(sampleRate, float64(toneHz)),
	}
}

func (d *Distortion) SetDrive(v float32)      { d.drive.Store(clamp(v, 1, 10)) }
func (d *Distortion) SetSaturation(v float32) { d.saturation.Store(clamp(v, 0, 1)) }

func (d *Distortion) Process(l, r float32) (float32, float32) {
	drive := d.drive.Load()
	mix := d.saturation.Load()
	// normalise so a full-scale input stays near full scale
	norm := float32(1 / math.Tanh(float64(drive)))
	wl := float32(math.Tanh(float64(l*drive))) * norm
	wr := float32(math.Tanh(float64(r*drive))) * norm
	l = l*(1-mix) + wl*mix
	r = r*(1-mix) + wr*mix
	if d.lpfAlpha > 0 {
		d.lpfL += d.lpfAlpha * (l - d.lpfL)
		d.lpfR += d.lpfAlpha * (r - d.lpfR)
		l, r = d.lpfL, d.lpfR
	}
	return l, r
}

func (d *Distortion) Reset() {
	d.lpfL = 0
	d.lpfR = 0
}
