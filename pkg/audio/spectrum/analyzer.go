// Package spectrum provides the frequency analyser tapped off the capture and
// playback signal paths for visualisation.
//
// The analyser mirrors the behaviour of a browser AnalyserNode: a Blackman
// window over the most recent FFT-size samples, exponential smoothing across
// snapshots, conversion to decibels, and quantisation to the byte range
// [0, 255] before normalising to [0, 1].
package spectrum

import (
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

const (
	// DefaultFFTSize is the transform size. It yields DefaultFFTSize/2 bins.
	DefaultFFTSize = 2048

	// DefaultSmoothing is the time-smoothing constant applied between snapshots.
	DefaultSmoothing = 0.8

	// DefaultMinDecibels and DefaultMaxDecibels bound the byte quantisation range.
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	// maxByte is the largest quantised magnitude.
	maxByte = 255.0
)

// Option configures an [Analyzer] during construction.
type Option func(*Analyzer)

// WithFFTSize sets the transform size. Values that are not a power of two in
// [32, 32768] are ignored.
func WithFFTSize(n int) Option {
	return func(a *Analyzer) {
		if n >= 32 && n <= 32768 && n&(n-1) == 0 {
			a.size = n
		}
	}
}

// WithSmoothing sets the time-smoothing constant in [0, 1). Zero disables
// smoothing.
func WithSmoothing(tau float64) Option {
	return func(a *Analyzer) {
		if tau >= 0 && tau < 1 {
			a.smoothing = tau
		}
	}
}

// WithDecibelRange sets the range mapped onto [0, 1]. min must be below max.
func WithDecibelRange(minDB, maxDB float64) Option {
	return func(a *Analyzer) {
		if minDB < maxDB {
			a.minDB, a.maxDB = minDB, maxDB
		}
	}
}

// Analyzer keeps a ring buffer of the most recent samples of a signal path and
// computes normalised magnitude spectra on demand.
//
// Write is called from a real-time thread and never waits: if a reader is
// copying the ring at that moment the block is skipped. Sample may be called
// from any goroutine.
type Analyzer struct {
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	// ring state, guarded by mu.
	mu   sync.Mutex
	ring []float32
	pos  int

	skipped atomic.Uint64

	// transform state, guarded by readMu.
	readMu   sync.Mutex
	fft      *fourier.FFT
	window   []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// New creates an [Analyzer] with the given options.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		size:      DefaultFFTSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
	}
	for _, o := range opts {
		o(a)
	}
	a.ring = make([]float32, a.size)
	a.fft = fourier.NewFFT(a.size)
	a.window = blackman(a.size)
	a.frame = make([]float64, a.size)
	a.coeffs = make([]complex128, a.size/2+1)
	a.smoothed = make([]float64, a.size/2)
	return a
}

// Bins returns the number of values in each snapshot.
func (a *Analyzer) Bins() int { return a.size / 2 }

// Skipped returns the number of blocks dropped by Write because a reader held
// the ring.
func (a *Analyzer) Skipped() uint64 { return a.skipped.Load() }

// Write appends mono samples to the ring buffer. It never blocks and never
// allocates.
func (a *Analyzer) Write(samples []float32) {
	if !a.mu.TryLock() {
		a.skipped.Add(1)
		return
	}
	if len(samples) >= a.size {
		copy(a.ring, samples[len(samples)-a.size:])
		a.pos = 0
		a.mu.Unlock()
		return
	}
	n := copy(a.ring[a.pos:], samples)
	if n < len(samples) {
		copy(a.ring, samples[n:])
	}
	a.pos = (a.pos + len(samples)) % a.size
	a.mu.Unlock()
}

// Sample returns the current spectrum. Each value is the smoothed magnitude of
// one bin, quantised to the byte range and divided by 255.
func (a *Analyzer) Sample() audio.Spectrum {
	a.readMu.Lock()
	defer a.readMu.Unlock()

	a.mu.Lock()
	for i := range a.size {
		a.frame[i] = float64(a.ring[(a.pos+i)%a.size])
	}
	a.mu.Unlock()

	for i := range a.frame {
		a.frame[i] *= a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	out := make([]float32, a.size/2)
	scale := maxByte / (a.maxDB - a.minDB)
	for k := range out {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		b := math.Floor(scale * (db - a.minDB))
		if b < 0 || math.IsNaN(b) {
			b = 0
		} else if b > maxByte {
			b = maxByte
		}
		out[k] = float32(b / maxByte)
	}
	return audio.Spectrum{Values: out}
}

// blackman returns the Blackman window (alpha 0.16) of length n.
func blackman(n int) []float64 {
	const (
		a0 = 0.42
		a1 = 0.5
		a2 = 0.08
	)
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}
