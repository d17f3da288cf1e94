package transport

import (
	"fmt"

	"github.com/danmuck/homelink/internal/observability"
	"github.com/danmuck/homelink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SendPacket encodes p and sends it whole.
func (r Reliable) SendPacket(s Stream, p protocol.Packet) error {
	buf, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	if err := r.Send(s, buf); err != nil {
		log.Warn().Err(err).Str("packet", p.Type().String()).Msg("transport.SendPacket failed")
		return fmt.Errorf("send %s: %w", p.Type(), err)
	}
	observability.RecordPacket("out", p.Type().String())
	log.Trace().Str("packet", p.Type().String()).Int("bytes", len(buf)).Msg("transport.SendPacket")
	return nil
}

// ReceivePacket reads exactly one T-sized packet and decodes it with a tag check.
func ReceivePacket[T protocol.Packet](r Reliable, s Stream) (T, error) {
	var zero T
	typ := zero.Type()
	size, ok := protocol.Size(typ)
	if !ok {
		return zero, fmt.Errorf("%w: %s", protocol.ErrUnknownType, typ)
	}
	buf, err := r.Receive(s, size)
	if err != nil {
		log.Warn().Err(err).Str("packet", typ.String()).Msg("transport.ReceivePacket failed")
		return zero, fmt.Errorf("receive %s: %w", typ, err)
	}
	p, err := protocol.DecodeAs[T](buf)
	if err != nil {
		log.Warn().Err(err).Str("packet", typ.String()).Msg("transport.ReceivePacket decode failed")
		return zero, err
	}
	observability.RecordPacket("in", typ.String())
	log.Trace().Str("packet", typ.String()).Int("bytes", size).Msg("transport.ReceivePacket")
	return p, nil
}
