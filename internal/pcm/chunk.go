package pcm

// Chunk is one buffer of interleaved PCM produced by a decoder.
type Chunk struct {
	Data []byte
}

// Len returns the chunk size in bytes.
func (c Chunk) Len() int {
	return len(c.Data)
}
