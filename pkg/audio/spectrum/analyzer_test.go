package spectrum

import (
	"math"
	"sync"
	"testing"
)

func sine(n, bin, size int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(size)))
	}
	return out
}

func TestSample_Silence(t *testing.T) {
	t.Parallel()

	a := New()
	got := a.Sample()
	if len(got.Values) != DefaultFFTSize/2 {
		t.Fatalf("got %d bins, want %d", len(got.Values), DefaultFFTSize/2)
	}
	for i, v := range got.Values {
		if v != 0 {
			t.Fatalf("bin %d = %v, want 0 for silence", i, v)
		}
	}
}

func TestSample_SinePeak(t *testing.T) {
	t.Parallel()

	const bin = 64
	a := New()
	a.Write(sine(DefaultFFTSize, bin, DefaultFFTSize, 1))
	got := a.Sample().Values

	if got[bin] != 1 {
		t.Errorf("bin %d = %v, want 1 for a full-scale tone", bin, got[bin])
	}
	far := got[bin*4]
	if far >= got[bin] {
		t.Errorf("distant bin %v not below peak %v", far, got[bin])
	}
	for i, v := range got {
		if v < 0 || v > 1 {
			t.Fatalf("bin %d = %v outside [0, 1]", i, v)
		}
	}
}

func TestSample_Smoothing(t *testing.T) {
	t.Parallel()

	const bin = 32
	// A quiet tone sits inside the dB range, so smoothing is observable.
	tone := sine(256, bin, 256, 0.001)
	a := New(WithFFTSize(256))
	a.Write(tone)
	first := a.Sample().Values[bin]
	second := a.Sample().Values[bin]
	if !(second > first) {
		t.Errorf("smoothed value did not rise: first %v, second %v", first, second)
	}

	b := New(WithFFTSize(256), WithSmoothing(0))
	b.Write(tone)
	x := b.Sample().Values[bin]
	y := b.Sample().Values[bin]
	if x != y {
		t.Errorf("unsmoothed snapshots differ: %v vs %v", x, y)
	}
}

func TestWrite_WrapsRing(t *testing.T) {
	t.Parallel()

	a := New(WithFFTSize(32), WithSmoothing(0))
	// Fill with a tone, then overwrite everything with silence in odd-sized blocks.
	a.Write(sine(32, 4, 32, 1))
	for range 10 {
		a.Write(make([]float32, 7))
	}
	for i, v := range a.Sample().Values {
		if v != 0 {
			t.Fatalf("bin %d = %v after overwrite with silence", i, v)
		}
	}
}

func TestOptions_Invalid(t *testing.T) {
	t.Parallel()

	a := New(WithFFTSize(1000), WithSmoothing(1.5), WithDecibelRange(-10, -20))
	if a.Bins() != DefaultFFTSize/2 {
		t.Errorf("Bins() = %d, want default", a.Bins())
	}
	if a.smoothing != DefaultSmoothing {
		t.Errorf("smoothing = %v, want default", a.smoothing)
	}
	if a.minDB != DefaultMinDecibels || a.maxDB != DefaultMaxDecibels {
		t.Errorf("dB range = [%v, %v], want default", a.minDB, a.maxDB)
	}
}

func TestConcurrentWriteAndSample(t *testing.T) {
	t.Parallel()

	a := New(WithFFTSize(512))
	block := sine(128, 8, 512, 0.5)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 500 {
			a.Write(block)
		}
	}()
	go func() {
		defer wg.Done()
		for range 50 {
			if got := len(a.Sample().Values); got != 256 {
				t.Errorf("got %d bins, want 256", got)
				return
			}
		}
	}()
	wg.Wait()
}
