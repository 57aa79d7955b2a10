package eve

import (
	"bytes"
	"testing"
)

func TestBufferResetKeepsCapacity(t *testing.T) {
	buf := NewBuffer(128)
	capBefore := buf.Cap()

	payload := bytes.Repeat([]byte("x"), 100)
	for i := 0; i < 50; i++ {
		buf.Reset()
		if buf.Len() != 0 {
			t.Fatalf("iteration %d: Len() = %d after Reset", i, buf.Len())
		}
		if _, err := buf.Write(payload); err != nil {
			t.Fatal(err)
		}
	}

	if buf.Cap() != capBefore {
		t.Errorf("capacity changed across same-size reuse: %d -> %d", capBefore, buf.Cap())
	}
}

func TestBufferGrowsBeyondInitialCapacity(t *testing.T) {
	buf := NewBuffer(8)
	payload := bytes.Repeat([]byte("y"), 1000)
	if _, err := buf.Write(payload); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Error("grown buffer lost data")
	}
}

func TestBufferDefaultCapacity(t *testing.T) {
	buf := NewBuffer(0)
	if buf.Cap() != DefaultBufferSize {
		t.Errorf("Cap() = %d, want %d", buf.Cap(), DefaultBufferSize)
	}
}
