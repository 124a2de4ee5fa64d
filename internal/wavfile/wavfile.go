// Package wavfile records captured frames to 16-bit PCM WAV files and turns
// WAV files into playback chunks.
package wavfile

import (
	"errors"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// ErrInvalidFile is returned by [ReadChunks] for files that are not PCM WAV.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM WAV file")

// ErrClosed is returned by [Writer.WriteFrame] after [Writer.Close].
var ErrClosed = errors.New("wavfile: writer closed")

const bitDepth = 16

// Writer appends mono frames to a WAV file. It is safe for concurrent use,
// so WriteFrame can be passed directly as a capture callback.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	enc     *wav.Encoder
	buf     *goaudio.IntBuffer
	samples int
	closed  bool
}

// NewWriter creates path and prepares a mono 16-bit WAV stream at sampleRate.
func NewWriter(path string, sampleRate int) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wavfile: invalid sample rate %d", sampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: create %s: %w", path, err)
	}
	return &Writer{
		f:   f,
		enc: wav.NewEncoder(f, sampleRate, bitDepth, 1, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// WriteFrame appends the samples of fr.
func (w *Writer) WriteFrame(fr audio.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if len(fr.Mono) == 0 {
		return nil
	}
	data := w.buf.Data[:0]
	for _, s := range fr.Mono {
		data = append(data, int(s))
	}
	w.buf.Data = data
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	w.samples += len(fr.Mono)
	return nil
}

// Samples returns how many samples have been written.
func (w *Writer) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// Close finalises the WAV header and closes the file. It is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.Join(w.enc.Close(), w.f.Close())
}

// ReadChunks decodes a PCM WAV file, downmixes it to mono 16-bit and splits it
// into chunks of chunkSamples samples at the file's own rate. All chunks carry
// streamID. The last chunk may be shorter. A non-positive chunkSamples returns
// the whole file as one chunk.
func ReadChunks(path string, chunkSamples int, streamID string) ([]audio.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %s: %w", path, err)
	}

	channels := int(dec.NumChans)
	mono := downmix(buf.Data, channels, int(dec.BitDepth))
	rate := int(dec.SampleRate)

	if chunkSamples <= 0 {
		chunkSamples = max(len(mono), 1)
	}
	chunks := make([]audio.Chunk, 0, (len(mono)+chunkSamples-1)/chunkSamples)
	for start := 0; start < len(mono); start += chunkSamples {
		end := min(start+chunkSamples, len(mono))
		chunks = append(chunks, audio.Chunk{
			StreamID:   streamID,
			Samples:    mono[start:end:end],
			SampleRate: rate,
		})
	}
	return chunks, nil
}

// downmix averages interleaved integer samples to mono and rescales them from
// depth to 16 bits.
func downmix(data []int, channels, depth int) []int16 {
	channels = max(channels, 1)
	shift := max(depth-16, 0)
	out := make([]int16, len(data)/channels)
	for i := range out {
		sum := 0
		for c := range channels {
			sum += data[i*channels+c]
		}
		v := sum / channels
		switch {
		case depth == 8:
			v = (v - 128) << 8 // 8-bit WAV is unsigned
		case shift > 0:
			v >>= shift
		}
		out[i] = int16(max(min(v, 32767), -32768))
	}
	return out
}
