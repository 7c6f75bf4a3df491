// Package audio provides the PCM plumbing between a capture stream and the
// sound classifier: sample decoding and the overlapping window builder.
//
// All audio in the pipeline is signed 16-bit little-endian PCM, single
// channel, at a fixed sample rate agreed with the classifier (16 kHz for
// YAMNet-style models). The [WindowBuilder] is the only stateful piece; it
// carries partial windows across arbitrarily sized capture reads.
package audio

// AnalysisWindow is one fixed-length slice of normalised mono samples, ready
// for classification, plus its offset (in samples) from the start of the
// stream. Windows are ephemeral: built, classified, discarded.
type AnalysisWindow struct {
	// Samples holds exactly the classifier's required window length of
	// samples, each in [-1, 1].
	Samples []float32

	// Offset is the stream position (in samples) of Samples[0].
	Offset int64
}

// DecodeS16LE converts signed 16-bit little-endian PCM bytes to normalised
// float32 samples in [-1, 1]. A trailing odd byte is ignored; callers that
// receive chunks split mid-sample should use a [WindowBuilder], which carries
// the half sample to the next write.
func DecodeS16LE(p []byte) []float32 {
	n := len(p) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(p[2*i]) | int16(p[2*i+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
