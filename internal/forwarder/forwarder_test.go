package forwarder

import (
	"encoding/binary"
	"os"
	"testing"
	"time"
)

func TestForwarderRawToRaw(t *testing.T) {
	srcR, srcW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	dstR, dstW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer srcR.Close()
	defer srcW.Close()
	defer dstR.Close()
	defer dstW.Close()

	f := New(int(srcR.Fd()), int(dstW.Fd()), 1500, false, false)
	f.Start()
	defer f.Stop()

	payload := []byte("an ethernet frame")
	if _, err := srcW.Write(payload); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(payload))
	dstR.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := dstR.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("got %q, want %q", buf, payload)
	}
}

func TestForwarderPrefixedToRaw(t *testing.T) {
	srcR, srcW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	dstR, dstW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer srcR.Close()
	defer srcW.Close()
	defer dstR.Close()
	defer dstW.Close()

	f := New(int(srcR.Fd()), int(dstW.Fd()), 1500, true, false)
	f.Start()
	defer f.Stop()

	payload := []byte("a length-prefixed frame")
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := srcW.Write(lenBuf[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := srcW.Write(payload); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(payload))
	dstR.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := dstR.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("got %q, want %q", buf, payload)
	}
}
