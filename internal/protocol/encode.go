package protocol

import "fmt"

// Encode returns the fixed-size wire form of p.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrValidation)
	}
	l, ok := layouts[p.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, p.Type())
	}
	w := &fieldWriter{buf: make([]byte, l.size)}
	w.u8(uint8(p.Type()))
	p.encodeFields(w)
	if w.err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Type(), w.err)
	}
	if w.off != l.size {
		return nil, fmt.Errorf("%w: %s wrote %d of %d bytes", ErrMalformedLength, p.Type(), w.off, l.size)
	}
	return w.buf, nil
}
