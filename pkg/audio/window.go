package audio

import "fmt"

// WindowBuilder accumulates a raw s16le PCM byte stream and emits fixed-length
// overlapping [AnalysisWindow] values in strict stream order.
//
// The capture transport may deliver chunks of any size, including chunks that
// split a sample across a byte boundary; the builder buffers partial samples
// and partial windows internally. Windows become available as soon as enough
// samples are buffered — Write never blocks on anything but the append itself.
// A trailing partial window at end of stream is simply never emitted.
//
// Not safe for concurrent use; each source owns exactly one builder.
type WindowBuilder struct {
	windowSamples int
	stepSamples   int

	buf    []float32 // samples not yet consumed by an emitted window
	offset int64     // stream offset of buf[0]
	carry  byte      // low byte of a sample split across Write calls
	half   bool      // carry is valid
}

// NewWindowBuilder creates a builder emitting windows of windowSamples
// samples, advancing by stepSamples between windows. A step equal to the
// window length means no overlap; half the window length gives the usual 50 %
// overlap.
func NewWindowBuilder(windowSamples, stepSamples int) (*WindowBuilder, error) {
	if windowSamples <= 0 {
		return nil, fmt.Errorf("audio: window length %d must be positive", windowSamples)
	}
	if stepSamples <= 0 || stepSamples > windowSamples {
		return nil, fmt.Errorf("audio: window step %d must be in [1, %d]", stepSamples, windowSamples)
	}
	return &WindowBuilder{
		windowSamples: windowSamples,
		stepSamples:   stepSamples,
	}, nil
}

// Write appends a chunk of s16le PCM bytes to the builder. It only ever
// appends to the internal buffer; emitted windows are drained via [WindowBuilder.Next].
func (b *WindowBuilder) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.half {
		joined := []byte{b.carry, p[0]}
		b.buf = append(b.buf, DecodeS16LE(joined)...)
		p = p[1:]
		b.half = false
	}
	if len(p)%2 != 0 {
		b.carry = p[len(p)-1]
		b.half = true
		p = p[:len(p)-1]
	}
	b.buf = append(b.buf, DecodeS16LE(p)...)
}

// Next returns the next complete window, or ok=false when fewer than a full
// window of samples is buffered. The returned samples are a copy; the builder
// retains only the overlap region.
func (b *WindowBuilder) Next() (w AnalysisWindow, ok bool) {
	if len(b.buf) < b.windowSamples {
		return AnalysisWindow{}, false
	}
	samples := make([]float32, b.windowSamples)
	copy(samples, b.buf[:b.windowSamples])
	w = AnalysisWindow{Samples: samples, Offset: b.offset}

	// Slide by the step, keeping the overlap for the next window.
	n := copy(b.buf, b.buf[b.stepSamples:])
	b.buf = b.buf[:n]
	b.offset += int64(b.stepSamples)
	return w, true
}

// Buffered reports the number of whole samples currently held, including any
// overlap carried from the last emitted window.
func (b *WindowBuilder) Buffered() int {
	return len(b.buf)
}

// Reset discards all buffered samples and restarts the stream offset at zero.
// Call it when the capture stream is reconnected so stale audio from before
// the disconnect cannot leak into the first window of the new stream.
func (b *WindowBuilder) Reset() {
	b.buf = b.buf[:0]
	b.offset = 0
	b.half = false
}
