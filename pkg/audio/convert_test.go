package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

func TestDownmixInto(t *testing.T) {
	t.Parallel()

	// Two stereo frames: L=0.5,R=0.25 and L=-1,R=0
	in := []float32{0.5, 0.25, -1, 0}
	dst := make([]float32, 2)
	n := audio.DownmixInto(dst, in, 2)
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	want := []float32{0.375, -0.5}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestDownmixInto_Mono(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}
	dst := make([]float32, 3)
	if n := audio.DownmixInto(dst, in, 1); n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	for i := range in {
		if dst[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, dst[i], in[i])
		}
	}
}

func TestDownmixInto_ShortDestination(t *testing.T) {
	t.Parallel()

	in := []float32{1, 1, 1, 1, 1, 1}
	dst := make([]float32, 2)
	if n := audio.DownmixInto(dst, in, 2); n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestUpmixInto(t *testing.T) {
	t.Parallel()

	mono := []float32{0.1, -0.2, 0.3}
	dst := make([]float32, 6)
	n := audio.UpmixInto(dst, mono, 2)
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	want := []float32{0.1, 0.1, -0.2, -0.2, 0.3, 0.3}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()

	pcm := []int16{100, 200, 300}
	out := audio.ResampleMono16(pcm, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	t.Parallel()

	// 16kHz → 24kHz: 3 samples become 4.
	pcm := []int16{0, 300, 600, 900, 1200, 1500}
	out := audio.ResampleMono16(pcm, 16000, 24000)
	if len(out) != 9 {
		t.Fatalf("length: got %d, want 9", len(out))
	}
	if out[0] != 0 {
		t.Errorf("first sample: got %d, want 0", out[0])
	}
	// Linear ramp stays monotonic.
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Errorf("sample %d (%d) < sample %d (%d)", i, out[i], i-1, out[i-1])
		}
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()

	pcm := make([]int16, 480)
	out := audio.ResampleMono16(pcm, 48000, 16000)
	if len(out) != 160 {
		t.Fatalf("length: got %d, want 160", len(out))
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		srcRate int
		dstRate int
	}{
		{"zero src", 0, 48000},
		{"zero dst", 48000, 0},
		{"negative src", -1, 48000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pcm := []int16{1, 2, 3}
			out := audio.ResampleMono16(pcm, tt.srcRate, tt.dstRate)
			if len(out) != len(pcm) {
				t.Errorf("expected passthrough, got %d samples", len(out))
			}
		})
	}
}

func TestNewResampler_InvalidRates(t *testing.T) {
	t.Parallel()

	if _, err := audio.NewResampler(0, 16000); err == nil {
		t.Error("expected error for zero source rate")
	}
	if _, err := audio.NewResampler(48000, -1); err == nil {
		t.Error("expected error for negative destination rate")
	}
}

func TestResampler_ConstantSignal(t *testing.T) {
	t.Parallel()

	r, err := audio.NewResampler(48000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	src := make([]float32, 128)
	for i := range src {
		src[i] = 0.5
	}
	dst := make([]float32, r.MaxOutput(len(src)))

	// Blocks after the first interpolate against the carried sample; a
	// constant input must stay constant across the boundary.
	for block := range 10 {
		n := r.Process(dst, src)
		for i := range n {
			if block > 0 && dst[i] != 0.5 {
				t.Fatalf("block %d sample %d: got %v, want 0.5", block, i, dst[i])
			}
		}
	}
}

func TestResampler_OutputLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src, dst int
	}{
		{"48k to 16k", 48000, 16000},
		{"44.1k to 16k", 44100, 16000},
		{"16k to 24k", 16000, 24000},
		{"same rate", 16000, 16000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := audio.NewResampler(tt.src, tt.dst)
			if err != nil {
				t.Fatal(err)
			}
			const block, blocks = 128, 1000
			src := make([]float32, block)
			dst := make([]float32, r.MaxOutput(block))
			total := 0
			for range blocks {
				n := r.Process(dst, src)
				if n > len(dst) {
					t.Fatalf("wrote %d samples into %d-sample buffer", n, len(dst))
				}
				total += n
			}
			want := float64(block*blocks) * float64(tt.dst) / float64(tt.src)
			if math.Abs(float64(total)-want) > 2 {
				t.Errorf("total output: got %d, want ≈%.0f", total, want)
			}
		})
	}
}

func TestResampler_Reset(t *testing.T) {
	t.Parallel()

	r, err := audio.NewResampler(16000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	dst := make([]float32, r.MaxOutput(4))
	r.Process(dst, []float32{1, 1, 1, 1})
	r.Reset()
	n := r.Process(dst, []float32{0, 0, 0, 0})
	for i := range n {
		if dst[i] != 0 {
			t.Errorf("sample %d after reset: got %v, want 0", i, dst[i])
		}
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("%+v: got %q, want %q", tt.f, got, tt.want)
		}
	}
}
