package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// fieldWriter fills a preallocated packet buffer front to back.
// The first error sticks; later writes are no-ops.
type fieldWriter struct {
	buf []byte
	off int
	err error
}

func (w *fieldWriter) next(n int) []byte {
	if w.err != nil {
		return nil
	}
	if len(w.buf)-w.off < n {
		w.err = fmt.Errorf("%w: layout overruns %d-byte buffer", ErrMalformedLength, len(w.buf))
		return nil
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

func (w *fieldWriter) u8(v uint8) {
	if b := w.next(1); b != nil {
		b[0] = v
	}
}

func (w *fieldWriter) u32(v uint32) {
	if b := w.next(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

func (w *fieldWriter) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *fieldWriter) raw(v []byte) {
	if b := w.next(len(v)); b != nil {
		copy(b, v)
	}
}

// text writes v null-padded into width bytes. max is the longest accepted value;
// identifiers use width-1 so a terminator always remains.
func (w *fieldWriter) text(name, v string, width, max int) {
	if w.err != nil {
		return
	}
	if len(v) > max {
		w.err = fmt.Errorf("%w: %s is %d bytes, max %d", ErrFieldOverflow, name, len(v), max)
		return
	}
	if bytes.IndexByte([]byte(v), 0) >= 0 {
		w.err = fmt.Errorf("%w: %s contains a NUL byte", ErrValidation, name)
		return
	}
	if b := w.next(width); b != nil {
		copy(b, v)
	}
}

// fieldReader consumes a packet buffer front to back with the same sticky-error rule.
type fieldReader struct {
	buf []byte
	off int
	err error
}

func (r *fieldReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: layout overruns %d-byte buffer", ErrMalformedLength, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *fieldReader) u8() uint8 {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *fieldReader) u32() uint32 {
	if b := r.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *fieldReader) boolean(name string) bool {
	v := r.u8()
	if r.err != nil {
		return false
	}
	switch v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.err = fmt.Errorf("%w: %s=%d", ErrInvalidField, name, v)
		return false
	}
}

func (r *fieldReader) raw(dst []byte) {
	if b := r.next(len(dst)); b != nil {
		copy(dst, b)
	}
}

// text reads a null-padded field and returns the content before the first NUL.
func (r *fieldReader) text(name string, width, max int) string {
	b := r.next(width)
	if b == nil {
		return ""
	}
	end := bytes.IndexByte(b, 0)
	if end < 0 {
		end = width
	}
	if end > max {
		r.err = fmt.Errorf("%w: %s is unterminated", ErrInvalidField, name)
		return ""
	}
	return string(b[:end])
}
