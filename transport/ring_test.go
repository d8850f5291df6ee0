package transport

import (
	"bytes"
	"testing"

	"isrlink/core"
)

func feed(r *ReceiveRing, data string) int {
	stored := 0
	for i := 0; i < len(data); i++ {
		if r.OnByteReceived(data[i]) {
			stored++
		}
	}
	return stored
}

func TestReceiveRingEmpty(t *testing.T) {
	ring := NewReceiveRing(16)

	if ring.BytesAvailable() != 0 {
		t.Errorf("Expected 0 bytes available, got %d", ring.BytesAvailable())
	}
	if ring.IsReadable() {
		t.Error("New ring should not be readable")
	}
	if ring.Overflowed() {
		t.Error("New ring should not be overflowed")
	}
	if ring.Free() != 15 {
		t.Errorf("Expected 15 bytes free, got %d", ring.Free())
	}
}

func TestReceiveRingMinimumCapacity(t *testing.T) {
	ring := NewReceiveRing(0)
	if ring.Capacity() != 2 {
		t.Errorf("Expected capacity to be raised to 2, got %d", ring.Capacity())
	}
	if !ring.OnByteReceived('a') {
		t.Error("Expected first byte to be stored")
	}
	if ring.OnByteReceived('b') {
		t.Error("Expected second byte to overflow a 2-byte ring")
	}
}

func TestReceiveRingOverflowKeepsOldest(t *testing.T) {
	core.ClearEventRing()
	const capacity = 8
	ring := NewReceiveRing(capacity)

	// One slot stays free, so the capacity-th byte is the first one dropped
	for i := 0; i < capacity-1; i++ {
		if !ring.OnByteReceived(byte(i)) {
			t.Fatalf("Byte %d should have been stored", i)
		}
		if ring.Overflowed() {
			t.Fatalf("Ring overflowed early at byte %d", i)
		}
	}
	if ring.OnByteReceived(0xEE) {
		t.Error("Expected byte to be dropped when ring is full")
	}
	if ring.OnByteReceived(0xEF) {
		t.Error("Expected byte to be dropped when ring is still full")
	}
	if !ring.Overflowed() {
		t.Error("Expected overflow flag after dropping a byte")
	}
	if ring.BytesAvailable() != capacity-1 {
		t.Errorf("Expected %d bytes available, got %d", capacity-1, ring.BytesAvailable())
	}

	out := make([]byte, capacity)
	n := ring.ReadNonBlocking(out)
	if n != capacity-1 {
		t.Fatalf("Expected to read %d bytes, read %d", capacity-1, n)
	}
	for i := 0; i < n; i++ {
		if out[i] != byte(i) {
			t.Errorf("Byte %d corrupted: expected %d, got %d", i, i, out[i])
		}
	}

	found := false
	for _, evt := range core.Events() {
		if evt.Type == core.EvtRxOverflow {
			found = true
		}
	}
	if !found {
		t.Error("Expected an overflow event to be recorded")
	}
}

func TestReceiveRingOverflowStaysSticky(t *testing.T) {
	ring := NewReceiveRing(4)
	feed(ring, "abcd")

	// Draining does not reset the flag, and new bytes are stored again
	buf := make([]byte, 4)
	if n := ring.ReadNonBlocking(buf); n != 3 {
		t.Fatalf("Expected 3 buffered bytes, got %d", n)
	}
	if !ring.OnByteReceived('e') {
		t.Error("Expected byte to be stored after draining")
	}
	if !ring.Overflowed() {
		t.Error("Overflow flag should stay set until Clear")
	}
	if n := ring.ReadNonBlocking(buf); n != 1 || buf[0] != 'e' {
		t.Errorf("Expected to read 'e' after overflow, got %q", buf[:n])
	}
}

func TestReceiveRingReadNonBlocking(t *testing.T) {
	ring := NewReceiveRing(16)

	buf := make([]byte, 10)
	if n := ring.ReadNonBlocking(buf); n != 0 {
		t.Errorf("Expected 0 bytes from empty ring, got %d", n)
	}

	feed(ring, "hello")
	avail := ring.BytesAvailable()
	n := ring.ReadNonBlocking(buf[:3])
	if n != 3 || n > avail {
		t.Errorf("Expected 3 bytes, got %d (available %d)", n, avail)
	}
	if string(buf[:3]) != "hel" {
		t.Errorf("Expected 'hel', got %q", buf[:3])
	}

	avail = ring.BytesAvailable()
	n = ring.ReadNonBlocking(buf)
	if n != avail || n != 2 {
		t.Errorf("Expected 2 bytes, got %d (available %d)", n, avail)
	}
	if string(buf[:2]) != "lo" {
		t.Errorf("Expected 'lo', got %q", buf[:2])
	}
}

func TestReceiveRingWrapAround(t *testing.T) {
	ring := NewReceiveRing(5)

	feed(ring, "1234")
	buf := make([]byte, 2)
	ring.ReadNonBlocking(buf)

	if stored := feed(ring, "56"); stored != 2 {
		t.Errorf("Expected to store 2 bytes, stored %d", stored)
	}
	if ring.BytesAvailable() != 4 {
		t.Errorf("Expected 4 bytes available, got %d", ring.BytesAvailable())
	}

	all := make([]byte, 4)
	n := ring.ReadNonBlocking(all)
	if n != 4 || string(all) != "3456" {
		t.Errorf("Wrap-around data mismatch: got %q", all[:n])
	}
}

func TestReceiveRingReadReturnsBatch(t *testing.T) {
	ring := NewReceiveRing(16)
	feed(ring, "abc")

	buf := make([]byte, 10)
	n, err := ring.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 3 || string(buf[:n]) != "abc" {
		t.Errorf("Expected 'abc', got %q", buf[:n])
	}
}

func TestReceiveRingReadWaitsForData(t *testing.T) {
	ring := NewReceiveRing(16)

	idles := 0
	ring.SetIdle(func() {
		idles++
		if idles == 3 {
			// bytes arrive while mainline sleeps
			feed(ring, "xy")
		}
	})

	buf := make([]byte, 8)
	n, err := ring.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if idles != 3 {
		t.Errorf("Expected 3 idle calls, got %d", idles)
	}
	if n != 2 || string(buf[:n]) != "xy" {
		t.Errorf("Expected 'xy', got %q", buf[:n])
	}
}

func TestReceiveRingReadTimeout(t *testing.T) {
	ring := NewReceiveRing(16)
	ring.SetIdle(func() {})
	ring.SetTimeout(idleAfter(2))

	n, err := ring.Read(make([]byte, 4))
	if err != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 bytes on timeout, got %d", n)
	}
}

func TestReceiveRingReadFull(t *testing.T) {
	ring := NewReceiveRing(16)
	feed(ring, "ab")

	chunks := []string{"cd", "ef"}
	ring.SetIdle(func() {
		if len(chunks) > 0 {
			feed(ring, chunks[0])
			chunks = chunks[1:]
		}
	})

	buf := make([]byte, 5)
	n, err := ring.ReadFull(buf)
	if err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if n != 5 || string(buf) != "abcde" {
		t.Errorf("Expected 'abcde', got %q", buf[:n])
	}
	if ring.BytesAvailable() != 1 {
		t.Errorf("Expected 1 byte left over, got %d", ring.BytesAvailable())
	}
}

func TestReceiveRingReadFullTimeoutReportsProgress(t *testing.T) {
	ring := NewReceiveRing(16)
	ring.SetIdle(func() {})
	ring.SetTimeout(idleAfter(2))
	feed(ring, "ab")

	buf := make([]byte, 4)
	n, err := ring.ReadFull(buf)
	if err != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if n != 2 || string(buf[:2]) != "ab" {
		t.Errorf("Expected partial 'ab', got %q", buf[:n])
	}
}

func TestReceiveRingReadByte(t *testing.T) {
	ring := NewReceiveRing(16)
	feed(ring, "z")

	b, err := ring.ReadByte()
	if err != nil || b != 'z' {
		t.Errorf("Expected 'z', got %q (%v)", b, err)
	}

	ring.SetIdle(func() {})
	ring.SetTimeout(idleAfter(1))
	if _, err := ring.ReadByte(); err != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestReceiveRingReadLine(t *testing.T) {
	ring := NewReceiveRing(16)
	feed(ring, "ab\ncd")

	buf := make([]byte, 10)
	n, err := ring.ReadLine(buf, '\n')
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 bytes, got %d", n)
	}
	if !bytes.Equal(buf[:4], []byte("ab\n\x00")) {
		t.Errorf("Expected \"ab\\n\\x00\", got %q", buf[:4])
	}

	// The rest of the line arrives while waiting
	ring.SetIdle(func() {
		feed(ring, "\n")
	})
	n, err = ring.ReadLine(buf, '\n')
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if n != 3 || !bytes.Equal(buf[:4], []byte("cd\n\x00")) {
		t.Errorf("Expected \"cd\\n\\x00\", got %q", buf[:n+1])
	}
}

func TestReceiveRingReadLineTimeout(t *testing.T) {
	ring := NewReceiveRing(16)
	ring.SetIdle(func() {})
	ring.SetTimeout(idleAfter(3))
	feed(ring, "ab\ncd")

	buf := make([]byte, 10)
	if _, err := ring.ReadLine(buf, '\n'); err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}

	n, err := ring.ReadLine(buf, '\n')
	if err != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if n != 2 || !bytes.Equal(buf[:3], []byte("cd\x00")) {
		t.Errorf("Expected \"cd\\x00\", got %q", buf[:3])
	}
}

func TestReceiveRingReadLineTruncates(t *testing.T) {
	ring := NewReceiveRing(16)
	feed(ring, "abcdef\n")

	buf := make([]byte, 4)
	n, err := ring.ReadLine(buf, '\n')
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if n != 3 || !bytes.Equal(buf, []byte("abc\x00")) {
		t.Errorf("Expected \"abc\\x00\", got %q", buf)
	}
	if ring.BytesAvailable() != 4 {
		t.Errorf("Expected 4 bytes left, got %d", ring.BytesAvailable())
	}
}

func TestReceiveRingReadLineEmptyBuffer(t *testing.T) {
	ring := NewReceiveRing(16)
	if _, err := ring.ReadLine(nil, '\n'); err != ErrNoBuffer {
		t.Errorf("Expected ErrNoBuffer, got %v", err)
	}
}

func TestReceiveRingReadLineOverflow(t *testing.T) {
	ring := NewReceiveRing(4)
	feed(ring, "ab\nc")

	buf := make([]byte, 8)
	n, err := ring.ReadLine(buf, '\n')
	if err != ErrBadLine {
		t.Errorf("Expected ErrBadLine, got %v", err)
	}
	if n != 0 || buf[0] != 0 {
		t.Errorf("Expected empty terminated line, got %d bytes", n)
	}

	// Buffered data is still readable without the line discipline
	if got := ring.ReadNonBlocking(buf); got != 3 || string(buf[:3]) != "ab\n" {
		t.Errorf("Expected 'ab\\n' to remain readable, got %q", buf[:got])
	}
}

func TestReceiveRingReadLineRefusedUntilClear(t *testing.T) {
	ring := NewReceiveRing(4)
	feed(ring, "ab\nc")

	buf := make([]byte, 8)
	for i := 0; i < 2; i++ {
		n, err := ring.ReadLine(buf, '\n')
		if n != 0 || err != ErrBadLine {
			t.Errorf("Read %d: expected (0, ErrBadLine), got (%d, %v)", i, n, err)
		}
	}
	if ring.BytesAvailable() != 3 {
		t.Errorf("Expected 3 bytes still buffered, got %d", ring.BytesAvailable())
	}

	ring.Clear()
	feed(ring, "ok\n")
	n, err := ring.ReadLine(buf, '\n')
	if err != nil {
		t.Errorf("Expected no error after Clear, got %v", err)
	}
	if n != 3 || string(buf[:n]) != "ok\n" {
		t.Errorf("Expected 'ok\\n', got %q", buf[:n])
	}
}

func TestReceiveRingPeekLineLength(t *testing.T) {
	ring := NewReceiveRing(16)

	if got := ring.PeekLineLength('\n'); got != 0 {
		t.Errorf("Expected 0 for empty ring, got %d", got)
	}

	feed(ring, "abc")
	if got := ring.PeekLineLength('\n'); got != 0 {
		t.Errorf("Expected 0 without delimiter, got %d", got)
	}

	feed(ring, "\nxy")
	if got := ring.PeekLineLength('\n'); got != 4 {
		t.Errorf("Expected 4, got %d", got)
	}
	if ring.BytesAvailable() != 6 {
		t.Errorf("Peek should not consume, %d bytes left", ring.BytesAvailable())
	}
}

func TestReceiveRingPeekLineLengthAcrossWrap(t *testing.T) {
	ring := NewReceiveRing(8)

	feed(ring, "abcdef")
	ring.ReadNonBlocking(make([]byte, 5))

	// read index is 5; the delimiter lands at index 0
	feed(ring, "gh\nij")
	if got := ring.PeekLineLength('\n'); got != 4 {
		t.Errorf("Expected wrapped line length 4, got %d", got)
	}

	buf := make([]byte, 8)
	n, err := ring.ReadLine(buf, '\n')
	if err != nil || n != 4 || string(buf[:n]) != "fgh\n" {
		t.Errorf("Expected 'fgh\\n', got %q (%v)", buf[:n], err)
	}
}

func TestReceiveRingPeekLineLengthOverflow(t *testing.T) {
	ring := NewReceiveRing(4)
	feed(ring, "a\nbc")

	if !ring.Overflowed() {
		t.Fatal("Expected ring to overflow")
	}
	if got := ring.PeekLineLength('\n'); got != LineOverflow {
		t.Errorf("Expected LineOverflow even with a delimiter queued, got %d", got)
	}
}

func TestReceiveRingClear(t *testing.T) {
	guard := &countingGuard{}
	ring := NewReceiveRing(4)
	ring.SetGuard(guard)

	feed(ring, "abcdef")
	if !ring.Overflowed() {
		t.Fatal("Expected ring to overflow")
	}

	ring.Clear()

	if ring.BytesAvailable() != 0 {
		t.Errorf("Expected 0 bytes after Clear, got %d", ring.BytesAvailable())
	}
	if ring.Overflowed() {
		t.Error("Expected overflow flag reset after Clear")
	}
	if guard.entered != 1 || guard.exited != 1 {
		t.Errorf("Expected guard entered and exited once, got %d/%d", guard.entered, guard.exited)
	}

	// The ring is usable again from index 0
	feed(ring, "xyz")
	if ring.BytesAvailable() != 3 {
		t.Errorf("Expected 3 bytes after refill, got %d", ring.BytesAvailable())
	}
}
