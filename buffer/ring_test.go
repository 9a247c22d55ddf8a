package buffer_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/kanchonet/kanchonet-go/buffer"
)

func TestRingBasicWriteRead(t *testing.T) {
	r := buffer.NewRing(8)
	if !r.IsEmpty() {
		t.Fatal("new ring should be empty")
	}
	n := r.Write([]byte("hello"))
	if n != 5 {
		t.Fatalf("Write() = %d, want 5", n)
	}
	if r.AvailableRead() != 5 {
		t.Fatalf("AvailableRead() = %d, want 5", r.AvailableRead())
	}
	dst := make([]byte, 5)
	n = r.Read(dst)
	if n != 5 || string(dst) != "hello" {
		t.Fatalf("Read() = %d %q, want 5 \"hello\"", n, dst)
	}
	if !r.IsEmpty() {
		t.Fatal("ring should be empty after full read")
	}
}

func TestRingShortWriteIsOverflowSignal(t *testing.T) {
	r := buffer.NewRing(4)
	n := r.Write([]byte("abcdef"))
	if n != 4 {
		t.Fatalf("Write() = %d, want short count 4", n)
	}
	if !r.IsFull() {
		t.Fatal("ring should report full after short write consumed capacity")
	}
}

func TestRingWrapAround(t *testing.T) {
	r := buffer.NewRing(4)
	r.Write([]byte("ab"))
	dst := make([]byte, 2)
	r.Read(dst)
	// readPos=2, writePos=2; write 4 bytes so it wraps
	n := r.Write([]byte("wxyz"))
	if n != 4 {
		t.Fatalf("Write() = %d, want 4", n)
	}
	got := make([]byte, 4)
	n = r.Read(got)
	if n != 4 || string(got) != "wxyz" {
		t.Fatalf("Read() = %d %q, want 4 \"wxyz\"", n, got)
	}
}

func TestRingPeekDoesNotAdvance(t *testing.T) {
	r := buffer.NewRing(8)
	r.Write([]byte("peekme"))
	dst := make([]byte, 4)
	r.Peek(dst)
	if r.AvailableRead() != 6 {
		t.Fatalf("Peek must not consume; AvailableRead() = %d, want 6", r.AvailableRead())
	}
}

func TestRingSkipSaturates(t *testing.T) {
	r := buffer.NewRing(8)
	r.Write([]byte("abc"))
	n := r.Skip(100)
	if n != 3 {
		t.Fatalf("Skip() = %d, want saturated 3", n)
	}
	if !r.IsEmpty() {
		t.Fatal("ring should be empty after skipping all bytes")
	}
}

func TestRingContiguousSpanCommit(t *testing.T) {
	r := buffer.NewRing(8)
	span := r.ContiguousWriteSpan()
	if len(span) == 0 {
		t.Fatal("expected writable span on empty ring")
	}
	copy(span, []byte("zc"))
	r.CommitWrite(2)
	if r.AvailableRead() != 2 {
		t.Fatalf("AvailableRead() = %d, want 2", r.AvailableRead())
	}
	rspan := r.ContiguousReadSpan()
	if !bytes.Equal(rspan[:2], []byte("zc")) {
		t.Fatalf("ContiguousReadSpan() = %q, want \"zc\"", rspan[:2])
	}
	r.CommitRead(2)
	if !r.IsEmpty() {
		t.Fatal("ring should be empty after CommitRead of all bytes")
	}
}

// TestRingAvailableInvariant is T1: available_read + available_write == C
// after any sequence of writes and reads.
func TestRingAvailableInvariant(t *testing.T) {
	const capacity = 16
	r := buffer.NewRing(capacity)
	rng := rand.New(rand.NewSource(1))
	var written, read bytes.Buffer

	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			chunk := make([]byte, rng.Intn(10)+1)
			rng.Read(chunk)
			n := r.Write(chunk)
			written.Write(chunk[:n])
		} else {
			buf := make([]byte, rng.Intn(10)+1)
			n := r.Read(buf)
			read.Write(buf[:n])
		}
		if r.AvailableRead()+r.AvailableWrite() != capacity {
			t.Fatalf("invariant broken at step %d: available_read=%d available_write=%d",
				i, r.AvailableRead(), r.AvailableWrite())
		}
	}

	// Drain remaining bytes and confirm read is a prefix of written.
	rest := make([]byte, r.AvailableRead())
	n := r.Read(rest)
	read.Write(rest[:n])

	if !bytes.HasPrefix(written.Bytes(), read.Bytes()) {
		t.Fatal("read bytes are not a prefix of written bytes")
	}
}
