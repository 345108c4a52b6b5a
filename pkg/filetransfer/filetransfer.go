// Package filetransfer is the demonstration application layer: it
// chunks a file into connection-sized payloads on the sending side
// and reassembles them on the receiving side, with an MD5 digest in
// the metadata to verify the result. The transport underneath reports
// loss but never resends, so a transfer over a lossy path can finish
// with holes; the receiver reports them rather than stalling.
package filetransfer

import (
	"crypto/md5"
	"encoding/binary"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"

	"RUDP/pkg/connection"
)

const (
	msgMetadata = 1
	msgChunk    = 2
	msgDone     = 3

	// chunk payload: type byte + 8-byte index + data
	chunkHeaderSize = 9

	// ChunkSize is the file bytes carried per packet.
	ChunkSize = connection.MaxPayloadSize - chunkHeaderSize

	// metadataEvery interleaves a metadata packet into the chunk
	// stream so a receiver that lost the first one still learns the
	// file size and digest.
	metadataEvery = 32

	spoolSize = 64 * 1024
)

// Metadata describes the file being transferred.
type Metadata struct {
	Size uint64
	Hash [md5.Size]byte
	Name string
}

func (m *Metadata) Marshal() []byte {
	buf := make([]byte, 1+8+md5.Size+len(m.Name))
	buf[0] = msgMetadata
	binary.BigEndian.PutUint64(buf[1:9], m.Size)
	copy(buf[9:9+md5.Size], m.Hash[:])
	copy(buf[9+md5.Size:], m.Name)
	return buf
}

func unmarshalMetadata(buf []byte) (*Metadata, error) {
	if len(buf) < 1+8+md5.Size {
		return nil, errors.Errorf("short metadata message: %d bytes", len(buf))
	}
	m := &Metadata{
		Size: binary.BigEndian.Uint64(buf[1:9]),
		Name: string(buf[9+md5.Size:]),
	}
	copy(m.Hash[:], buf[9:9+md5.Size])
	return m, nil
}

// TotalChunks is the number of chunk packets a file of the given size
// produces.
func TotalChunks(size uint64) uint64 {
	return (size + ChunkSize - 1) / ChunkSize
}

// Sender walks a file front to back producing one payload per call.
// Metadata is sent first and re-interleaved every metadataEvery
// packets; once every chunk has gone out, each further call produces
// a done marker.
type Sender struct {
	file        *os.File
	meta        Metadata
	totalChunks uint64
	nextIndex   uint64
	packetCount int
}

// NewSender opens path and computes its MD5 digest up front, the way
// the metadata needs it before the first chunk goes out.
func NewSender(path string) (*Sender, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat file")
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "hash file")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "rewind file")
	}

	s := &Sender{
		file: f,
		meta: Metadata{
			Size: uint64(info.Size()),
			Name: filepath.Base(path),
		},
		totalChunks: TotalChunks(uint64(info.Size())),
	}
	copy(s.meta.Hash[:], h.Sum(nil))
	return s, nil
}

func (s *Sender) Metadata() Metadata { return s.meta }

// Done reports whether every chunk has been produced at least once.
func (s *Sender) Done() bool { return s.nextIndex >= s.totalChunks }

// SentChunks is how many chunks have been produced so far.
func (s *Sender) SentChunks() uint64 { return s.nextIndex }

// NextPayload produces the next packet payload to send.
func (s *Sender) NextPayload() ([]byte, error) {
	defer func() { s.packetCount++ }()
	if s.packetCount%metadataEvery == 0 {
		return s.meta.Marshal(), nil
	}
	if s.Done() {
		buf := make([]byte, 9)
		buf[0] = msgDone
		binary.BigEndian.PutUint64(buf[1:9], s.totalChunks)
		return buf, nil
	}

	remaining := s.meta.Size - s.nextIndex*ChunkSize
	n := uint64(ChunkSize)
	if remaining < n {
		n = remaining
	}
	buf := make([]byte, chunkHeaderSize+n)
	buf[0] = msgChunk
	binary.BigEndian.PutUint64(buf[1:9], s.nextIndex)
	if _, err := io.ReadFull(s.file, buf[chunkHeaderSize:]); err != nil {
		return nil, errors.Wrapf(err, "read chunk %d", s.nextIndex)
	}
	s.nextIndex++
	return buf, nil
}

func (s *Sender) Close() error {
	return s.file.Close()
}

type pendingChunk struct {
	index uint64
	data  []byte
}

// Receiver reassembles the chunk stream. Out-of-order chunks wait in
// a btree keyed by index; whenever the next expected chunk is
// present, it is drained through the spool to the output writer and
// the running digest.
type Receiver struct {
	out      io.Writer
	spool    *ringbuffer.RingBuffer
	pending  *btree.BTreeG[pendingChunk]
	digest   hash.Hash
	meta     *Metadata
	next     uint64
	written  uint64
	doneSeen bool
}

func NewReceiver(out io.Writer) *Receiver {
	return &Receiver{
		out:   out,
		spool: ringbuffer.New(spoolSize),
		pending: btree.NewG(8, func(a, b pendingChunk) bool {
			return a.index < b.index
		}),
		digest: md5.New(),
	}
}

// HandleMessage consumes one packet payload. Duplicate metadata and
// chunks are ignored; an unknown message type is an error.
func (r *Receiver) HandleMessage(payload []byte) error {
	if len(payload) == 0 {
		// Keepalive, nothing to do.
		return nil
	}
	switch payload[0] {
	case msgMetadata:
		m, err := unmarshalMetadata(payload)
		if err != nil {
			return err
		}
		if r.meta == nil {
			r.meta = m
		}
		return nil
	case msgChunk:
		if len(payload) < chunkHeaderSize {
			return errors.Errorf("short chunk message: %d bytes", len(payload))
		}
		index := binary.BigEndian.Uint64(payload[1:9])
		if index < r.next {
			return nil // already written
		}
		data := make([]byte, len(payload)-chunkHeaderSize)
		copy(data, payload[chunkHeaderSize:])
		r.pending.ReplaceOrInsert(pendingChunk{index: index, data: data})
		return r.flushPending()
	case msgDone:
		r.doneSeen = true
		return nil
	}
	return errors.Errorf("unknown message type %d", payload[0])
}

func (r *Receiver) flushPending() error {
	for {
		min, ok := r.pending.Min()
		if !ok || min.index != r.next {
			return nil
		}
		r.pending.DeleteMin()
		data := min.data
		for len(data) > 0 {
			n, err := r.spool.Write(data)
			if err != nil && n == 0 {
				return errors.Wrap(err, "spool chunk")
			}
			data = data[n:]
			if err := r.drainSpool(); err != nil {
				return err
			}
		}
		r.next++
		r.written += uint64(len(min.data))
	}
}

func (r *Receiver) drainSpool() error {
	buf := make([]byte, 4096)
	for r.spool.Length() > 0 {
		n, err := r.spool.Read(buf)
		if n > 0 {
			r.digest.Write(buf[:n])
			if _, werr := r.out.Write(buf[:n]); werr != nil {
				return errors.Wrap(werr, "write output")
			}
		}
		if err != nil {
			break
		}
	}
	return nil
}

// Metadata is nil until a metadata message arrives.
func (r *Receiver) Metadata() *Metadata { return r.meta }

// WrittenBytes is how much of the file has reached the output so far.
func (r *Receiver) WrittenBytes() uint64 { return r.written }

// DoneSeen reports whether the sender has signalled end of stream.
func (r *Receiver) DoneSeen() bool { return r.doneSeen }

// Complete reports whether every byte of the file has been written.
func (r *Receiver) Complete() bool {
	return r.meta != nil && r.written == r.meta.Size
}

// MissingChunks is how many chunks are still unaccounted for, once
// metadata is known.
func (r *Receiver) MissingChunks() uint64 {
	if r.meta == nil {
		return 0
	}
	total := TotalChunks(r.meta.Size)
	have := r.next + uint64(r.pending.Len())
	if have >= total {
		return 0
	}
	return total - have
}

// VerifyHash compares the digest of the written stream against the
// metadata. Only meaningful once Complete.
func (r *Receiver) VerifyHash() bool {
	if !r.Complete() {
		return false
	}
	sum := r.digest.Sum(nil)
	for i, b := range sum {
		if r.meta.Hash[i] != b {
			return false
		}
	}
	return true
}
