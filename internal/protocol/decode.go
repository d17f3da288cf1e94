package protocol

import "fmt"

type layout struct {
	size   int
	decode func(r *fieldReader) Packet
}

func entry[T Packet, PT interface {
	*T
	decodeFields(r *fieldReader)
}](size int) layout {
	return layout{
		size: size,
		decode: func(r *fieldReader) Packet {
			var p T
			PT(&p).decodeFields(r)
			return p
		},
	}
}

var layouts = map[PacketType]layout{
	TypeAck:                entry[Ack](AckSize),
	TypeConnectionRequest:  entry[ConnectionRequest](ConnectionRequestSize),
	TypeConnectionResponse: entry[ConnectionResponse](ConnectionResponseSize),
	TypeCommand:            entry[Command](CommandSize),
	TypeLoginRequest:       entry[LoginRequest](LoginRequestSize),
	TypeLoginResponse:      entry[LoginResponse](LoginResponseSize),
	TypeRegisterRequest:    entry[RegisterRequest](RegisterRequestSize),
	TypeRegisterResponse:   entry[RegisterResponse](RegisterResponseSize),
	TypeLogout:             entry[Logout](LogoutSize),
	TypeAsyncNotification:  entry[AsyncNotification](AsyncNotificationSize),
}

// Size returns the fixed encoded size of packet type t.
func Size(t PacketType) (int, bool) {
	l, ok := layouts[t]
	return l.size, ok
}

// Decode parses buf as the expected packet type. The length must match the
// variant's size exactly and the leading tag must equal expected.
func Decode(buf []byte, expected PacketType) (Packet, error) {
	l, ok := layouts[expected]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, expected)
	}
	if len(buf) != l.size {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrMalformedLength, expected, l.size, len(buf))
	}
	if got := PacketType(buf[0]); got != expected {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedType, expected, got)
	}
	r := &fieldReader{buf: buf, off: 1}
	p := l.decode(r)
	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", expected, r.err)
	}
	return p, nil
}

// DecodeAs is Decode with the expected type taken from T, which must be a
// value variant such as LoginResponse.
func DecodeAs[T Packet](buf []byte) (T, error) {
	var zero T
	p, err := Decode(buf, zero.Type())
	if err != nil {
		return zero, err
	}
	out, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: decoded %T", ErrUnexpectedType, p)
	}
	return out, nil
}
