// Package stats maintains the rolling robust statistics the detector
// derives its adaptive threshold from: the median and the median
// absolute deviation of the last two seconds of samples.
package stats

import "sort"

// WindowSize is the number of samples the rolling window holds
// (two seconds at 50 Hz).
const WindowSize = 100

// Stats holds one snapshot of the window's robust scalars. MAD is the
// classical median of absolute deviations, with no scale factor.
type Stats struct {
	Median float64
	MAD    float64
}

// Window is a fixed-size rolling sample window. The zero value is not
// usable; create one with NewWindow.
type Window struct {
	buf     []int
	next    int
	full    bool
	scratch []int
	devs    []float64
}

// NewWindow returns an empty rolling window.
func NewWindow() *Window {
	return &Window{
		buf:     make([]int, 0, WindowSize),
		scratch: make([]int, WindowSize),
		devs:    make([]float64, WindowSize),
	}
}

// Push appends a sample, discarding the oldest when the window is full.
func (w *Window) Push(v int) {
	if len(w.buf) < WindowSize {
		w.buf = append(w.buf, v)
		if len(w.buf) == WindowSize {
			w.full = true
		}
		return
	}
	w.buf[w.next] = v
	w.next = (w.next + 1) % WindowSize
}

// Ready reports whether WindowSize samples have been pushed.
func (w *Window) Ready() bool {
	return w.full
}

// Reset empties the window.
func (w *Window) Reset() {
	w.buf = w.buf[:0]
	w.next = 0
	w.full = false
}

// Stats computes the current median and MAD. The second return is
// false until the window is full; the statistics are undefined before
// then. Both medians take the lower of the two middle values.
func (w *Window) Stats() (Stats, bool) {
	if !w.full {
		return Stats{}, false
	}

	s := w.scratch[:WindowSize]
	copy(s, w.buf)
	sort.Ints(s)
	median := float64(s[(WindowSize-1)/2])

	d := w.devs[:WindowSize]
	for i, v := range w.buf {
		dev := float64(v) - median
		if dev < 0 {
			dev = -dev
		}
		d[i] = dev
	}
	sort.Float64s(d)
	mad := d[(WindowSize-1)/2]

	return Stats{Median: median, MAD: mad}, true
}

// Rails returns the fraction of window samples at or below the bottom
// rail and at or above the top rail. Zero until the window is full.
func (w *Window) Rails(bottom, top int) (low, high float64) {
	if !w.full {
		return 0, 0
	}
	var nLow, nHigh int
	for _, v := range w.buf {
		if v <= bottom {
			nLow++
		}
		if v >= top {
			nHigh++
		}
	}
	return float64(nLow) / WindowSize, float64(nHigh) / WindowSize
}
