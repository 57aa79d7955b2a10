package eve

// Buffer is the per-thread scratch buffer records are serialized through
// before they reach the shared sink. One Buffer belongs to exactly one worker
// thread; it is never shared and needs no locking. Reset keeps the allocated
// capacity so steady-state emission stays allocation-free.
type Buffer struct {
	b []byte
}

// NewBuffer creates a Buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{b: make([]byte, 0, capacity)}
}

// Write appends p, growing the buffer when needed. Implements io.Writer;
// never returns an error.
func (b *Buffer) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

// Reset truncates the buffer to zero length, retaining capacity.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
}

// Bytes returns the buffered contents. Valid until the next Write or Reset.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.b)
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return cap(b.b)
}
