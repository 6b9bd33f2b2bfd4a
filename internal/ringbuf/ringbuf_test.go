package ringbuf

import (
	"os"
	"syscall"
	"testing"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	if _, err := New(Blocking, 0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := New(Blocking, 1); err == nil {
		t.Fatal("expected error for 1-byte capacity")
	}
	if _, err := New(Blocking, pageSize); err != nil {
		t.Fatalf("expected one page to be accepted, got %v", err)
	}
}

func TestDataSizeFreeSizeInvariant(t *testing.T) {
	b, err := New(Blocking, pageSize)
	if err != nil {
		t.Fatal(err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	payload := []byte("hello world")
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}

	n, err := b.ReadFromFD(int(r.Fd()), len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}

	if b.DataSize()+b.FreeSize() != b.Capacity() {
		t.Fatalf("invariant violated: data=%d free=%d cap=%d", b.DataSize(), b.FreeSize(), b.Capacity())
	}

	out := b.DrainTo(len(payload))
	if string(out) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, out)
	}
	if b.DataSize() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", b.DataSize())
	}
}

func TestCyclicOverwritesOldest(t *testing.T) {
	b, err := New(Cyclic, pageSize)
	if err != nil {
		t.Fatal(err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	total := pageSize * 2
	payload := make([]byte, total)
	for i := range payload {
		payload[i] = byte(i)
	}

	go func() {
		w.Write(payload)
		w.Close()
	}()

	for read := 0; read < total; {
		n, err := b.ReadFromFD(int(r.Fd()), total)
		if err != nil {
			t.Fatal(err)
		}
		read += n
		if n == 0 {
			break
		}
	}

	if b.DataSize() != b.Capacity() {
		t.Fatalf("expected full buffer, got data=%d cap=%d", b.DataSize(), b.Capacity())
	}

	out := b.DrainTo(b.Capacity())
	want := payload[total-pageSize:]
	if string(out) != string(want) {
		t.Fatal("expected drained bytes to equal the producer's last page")
	}
}

func TestReadFromFDWouldBlock(t *testing.T) {
	b, err := New(Blocking, pageSize)
	if err != nil {
		t.Fatal(err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if err := syscall.SetNonblock(int(r.Fd()), true); err != nil {
		t.Fatal(err)
	}

	_, err = b.ReadFromFD(int(r.Fd()), 10)
	if err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}
