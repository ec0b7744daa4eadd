package synergy

import (
	"encoding/binary"
	"errors"
)

var errShortMessage = errors.New("message truncated")

// reader decodes big-endian message fields.  The first out-of-bounds
// read latches err and every later read returns zero.
type reader struct {
	b   []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = errShortMessage
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) i16() int16 { return int16(r.u16()) }

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// bytes reads a length-prefixed byte string.
func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.b)) {
		r.err = errShortMessage
		return nil
	}
	return r.take(int(n))
}

// packet builds one length-prefixed frame.
type packet struct {
	b []byte
}

func newPacket(code string) *packet {
	p := &packet{b: make([]byte, 4, 64)}
	p.b = append(p.b, code...)
	return p
}

func (p *packet) u8(v uint8) *packet {
	p.b = append(p.b, v)
	return p
}

func (p *packet) u16(v uint16) *packet {
	p.b = binary.BigEndian.AppendUint16(p.b, v)
	return p
}

func (p *packet) i16(v int16) *packet { return p.u16(uint16(v)) }

func (p *packet) u32(v uint32) *packet {
	p.b = binary.BigEndian.AppendUint32(p.b, v)
	return p
}

func (p *packet) bytes(v []byte) *packet {
	p.u32(uint32(len(v)))
	p.b = append(p.b, v...)
	return p
}

// frame fills in the length prefix and returns the wire bytes.
func (p *packet) frame() []byte {
	binary.BigEndian.PutUint32(p.b[:4], uint32(len(p.b)-4))
	return p.b
}

// clampI16 saturates screen coordinates into the int16 wire range.
func clampI16(v int) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
