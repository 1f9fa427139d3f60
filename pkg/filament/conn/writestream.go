package conn

import (
	"errors"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/filament/pkg/filament/reactor"
)

// fileReadChunk bounds how much of a file region is staged per drain step.
const fileReadChunk = 32 * 1024

// entryKind tags the two write-stream entry variants. Dispatch is by enum,
// not interface, so pushing an entry never allocates beyond its payload.
type entryKind uint8

const (
	entryBytes entryKind = iota
	entryFile
)

// entry is one queued unit of output: either a pooled in-memory chunk or a
// file region read on demand while draining.
type entry struct {
	kind entryKind

	// entryBytes
	buf *bytebufferpool.ByteBuffer
	off int

	// entryFile
	src       io.ReaderAt
	srcOff    int64
	remaining int64
}

// WriteStream is the connection's outbound queue. Writers append entries;
// the write-readiness callback drains as much as the socket accepts.
// Write interest on the reactor is armed exactly while the stream is
// non-empty.
type WriteStream struct {
	entries []entry
	head    int
	scratch []byte
}

// NewWriteStream returns an empty stream.
func NewWriteStream() *WriteStream {
	return &WriteStream{}
}

// Empty reports whether nothing is queued.
func (s *WriteStream) Empty() bool {
	return s.head >= len(s.entries)
}

// PendingEntries returns the number of queued entries.
func (s *WriteStream) PendingEntries() int {
	return len(s.entries) - s.head
}

// PushBytes copies p into a pooled chunk and queues it.
func (s *WriteStream) PushBytes(p []byte) {
	if len(p) == 0 {
		return
	}
	bb := bytebufferpool.Get()
	bb.Write(p)
	s.PushBuffer(bb)
}

// PushBuffer queues a pooled chunk, taking ownership; the buffer returns to
// the pool once fully drained.
func (s *WriteStream) PushBuffer(bb *bytebufferpool.ByteBuffer) {
	if bb.Len() == 0 {
		bytebufferpool.Put(bb)
		return
	}
	s.push(entry{kind: entryBytes, buf: bb})
}

// PushFile queues size bytes of src starting at off.
func (s *WriteStream) PushFile(src io.ReaderAt, off, size int64) {
	if size <= 0 {
		return
	}
	s.push(entry{kind: entryFile, src: src, srcOff: off, remaining: size})
}

func (s *WriteStream) push(e entry) {
	// Compact the consumed prefix once it dominates the slice.
	if s.head > 0 && s.head*2 >= len(s.entries) {
		n := copy(s.entries, s.entries[s.head:])
		for i := n; i < len(s.entries); i++ {
			s.entries[i] = entry{}
		}
		s.entries = s.entries[:n]
		s.head = 0
	}
	s.entries = append(s.entries, e)
}

// Drain writes queued entries to w until the stream empties or the socket
// would block. Returns (true, nil) when emptied, (false, nil) on
// would-block, and (false, err) on a hard write or read failure.
func (s *WriteStream) Drain(w io.Writer) (bool, error) {
	for !s.Empty() {
		e := &s.entries[s.head]
		var err error
		switch e.kind {
		case entryBytes:
			err = s.drainBytes(e, w)
		case entryFile:
			err = s.drainFile(e, w)
		}
		if err != nil {
			if errors.Is(err, reactor.ErrWouldBlock) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// drainBytes writes the rest of a memory chunk; releases it when done.
func (s *WriteStream) drainBytes(e *entry, w io.Writer) error {
	for e.off < e.buf.Len() {
		n, err := w.Write(e.buf.B[e.off:])
		e.off += n
		if err != nil {
			if errors.Is(err, reactor.ErrWouldBlock) && e.off >= e.buf.Len() {
				break
			}
			return err
		}
	}
	bytebufferpool.Put(e.buf)
	e.buf = nil
	s.head++
	return nil
}

// drainFile stages the file region through a scratch buffer chunk by chunk.
func (s *WriteStream) drainFile(e *entry, w io.Writer) error {
	if s.scratch == nil {
		s.scratch = make([]byte, fileReadChunk)
	}
	for e.remaining > 0 {
		chunk := int64(len(s.scratch))
		if chunk > e.remaining {
			chunk = e.remaining
		}
		rn, rerr := e.src.ReadAt(s.scratch[:chunk], e.srcOff)
		if rn == 0 {
			if rerr != nil {
				return rerr
			}
			return io.ErrUnexpectedEOF
		}
		wn, werr := w.Write(s.scratch[:rn])
		e.srcOff += int64(wn)
		e.remaining -= int64(wn)
		if werr != nil {
			return werr
		}
	}
	s.head++
	return nil
}

// Discard releases every queued entry without writing it.
func (s *WriteStream) Discard() {
	for ; s.head < len(s.entries); s.head++ {
		e := &s.entries[s.head]
		if e.kind == entryBytes && e.buf != nil {
			bytebufferpool.Put(e.buf)
			e.buf = nil
		}
	}
	s.entries = s.entries[:0]
	s.head = 0
}
