package filetransfer

import (
	"bytes"
	"crypto/md5"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, size)
	rng.Read(data)
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path, data
}

// collectPayloads runs the sender to completion plus one done marker.
func collectPayloads(t *testing.T, s *Sender) [][]byte {
	t.Helper()
	var payloads [][]byte
	for !s.Done() {
		p, err := s.NextPayload()
		if err != nil {
			t.Fatalf("next payload: %v", err)
		}
		payloads = append(payloads, p)
	}
	for i := 0; i < 2; i++ {
		p, err := s.NextPayload()
		if err != nil {
			t.Fatalf("done payload: %v", err)
		}
		payloads = append(payloads, p)
	}
	return payloads
}

func TestTotalChunks(t *testing.T) {
	if TotalChunks(0) != 0 {
		t.Fatalf("TotalChunks(0) = %d; want 0", TotalChunks(0))
	}
	if TotalChunks(1) != 1 {
		t.Fatalf("TotalChunks(1) = %d; want 1", TotalChunks(1))
	}
	if TotalChunks(ChunkSize) != 1 {
		t.Fatalf("TotalChunks(ChunkSize) = %d; want 1", TotalChunks(ChunkSize))
	}
	if TotalChunks(ChunkSize+1) != 2 {
		t.Fatalf("TotalChunks(ChunkSize+1) = %d; want 2", TotalChunks(ChunkSize+1))
	}
}

func TestSenderMetadata(t *testing.T) {
	path, data := writeTempFile(t, 3*ChunkSize+17)
	s, err := NewSender(path)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer s.Close()

	meta := s.Metadata()
	if meta.Size != uint64(len(data)) {
		t.Fatalf("metadata size = %d; want %d", meta.Size, len(data))
	}
	if meta.Name != "payload.bin" {
		t.Fatalf("metadata name = %q; want payload.bin", meta.Name)
	}
	want := md5.Sum(data)
	if meta.Hash != want {
		t.Fatalf("metadata hash mismatch")
	}
}

func TestTransferInOrder(t *testing.T) {
	path, data := writeTempFile(t, 5*ChunkSize+100)
	s, err := NewSender(path)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer s.Close()

	var out bytes.Buffer
	r := NewReceiver(&out)
	for _, p := range collectPayloads(t, s) {
		if err := r.HandleMessage(p); err != nil {
			t.Fatalf("handle message: %v", err)
		}
	}
	if !r.Complete() {
		t.Fatalf("transfer incomplete: written=%d of %d", r.WrittenBytes(), len(data))
	}
	if !r.DoneSeen() {
		t.Fatalf("done marker not seen")
	}
	if !r.VerifyHash() {
		t.Fatalf("hash verification failed")
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("output differs from input")
	}
}

func TestTransferOutOfOrderWithDuplicates(t *testing.T) {
	path, data := writeTempFile(t, 8*ChunkSize+3)
	s, err := NewSender(path)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer s.Close()

	payloads := collectPayloads(t, s)
	// Shuffle delivery and deliver everything twice.
	shuffled := append(append([][]byte{}, payloads...), payloads...)
	rng := rand.New(rand.NewSource(3))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var out bytes.Buffer
	r := NewReceiver(&out)
	for _, p := range shuffled {
		if err := r.HandleMessage(p); err != nil {
			t.Fatalf("handle message: %v", err)
		}
	}
	if !r.Complete() || !r.VerifyHash() {
		t.Fatalf("out-of-order transfer failed: complete=%v", r.Complete())
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("output differs from input")
	}
}

func TestMissingChunkReported(t *testing.T) {
	path, _ := writeTempFile(t, 4*ChunkSize)
	s, err := NewSender(path)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer s.Close()

	var out bytes.Buffer
	r := NewReceiver(&out)
	for _, p := range collectPayloads(t, s) {
		// Drop the second chunk.
		if p[0] == msgChunk {
			if idx := p[1:9]; idx[7] == 1 {
				continue
			}
		}
		if err := r.HandleMessage(p); err != nil {
			t.Fatalf("handle message: %v", err)
		}
	}
	if r.Complete() {
		t.Fatalf("transfer with a lost chunk reported complete")
	}
	if r.MissingChunks() != 1 {
		t.Fatalf("missing chunks = %d; want 1", r.MissingChunks())
	}
	if r.VerifyHash() {
		t.Fatalf("hash verified on an incomplete transfer")
	}
}

func TestEmptyFile(t *testing.T) {
	path, _ := writeTempFile(t, 0)
	s, err := NewSender(path)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer s.Close()
	if !s.Done() {
		t.Fatalf("empty file sender not immediately done")
	}

	var out bytes.Buffer
	r := NewReceiver(&out)
	for i := 0; i < 3; i++ {
		p, err := s.NextPayload()
		if err != nil {
			t.Fatalf("next payload: %v", err)
		}
		if err := r.HandleMessage(p); err != nil {
			t.Fatalf("handle message: %v", err)
		}
	}
	if !r.Complete() || !r.VerifyHash() {
		t.Fatalf("empty transfer should complete trivially")
	}
	if out.Len() != 0 {
		t.Fatalf("empty transfer wrote %d bytes", out.Len())
	}
}

func TestKeepaliveAndUnknownMessages(t *testing.T) {
	r := NewReceiver(&bytes.Buffer{})
	if err := r.HandleMessage(nil); err != nil {
		t.Fatalf("keepalive payload: %v", err)
	}
	if err := r.HandleMessage([]byte{0xFF, 1, 2}); err == nil {
		t.Fatalf("unknown message type accepted")
	}
}
