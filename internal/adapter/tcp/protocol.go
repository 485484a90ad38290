package tcp

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// Frame layout, big endian:
//
//	[magic 'P'][op u8][keyLen u16][valLen u32][key][value]
//
// Responses reuse the frame with the status in the op byte and no key.
const (
	MagicByte  = 'P'
	HeaderSize = 8

	MaxKeySize   = math.MaxUint16
	MaxValueSize = 10 * 1024 * 1024
)

// Opcodes. Unless noted the value carries the member or field name.
const (
	OpSet          uint8 = 1
	OpGet          uint8 = 2
	OpDel          uint8 = 3
	OpExists       uint8 = 4
	OpType         uint8 = 5
	OpStats        uint8 = 6
	OpSelectTenant uint8 = 7 // key: tenant id

	OpHSet    uint8 = 20 // value: {"field","value"}
	OpHGet    uint8 = 21
	OpHDel    uint8 = 22
	OpHLen    uint8 = 23
	OpHGetAll uint8 = 24

	OpSAdd      uint8 = 30
	OpSRem      uint8 = 31
	OpSIsMember uint8 = 32
	OpSCard     uint8 = 33
	OpSMembers  uint8 = 34

	OpZAdd   uint8 = 40 // value: {"score","member"}
	OpZRem   uint8 = 41
	OpZScore uint8 = 42
	OpZRank  uint8 = 43
	OpZRange uint8 = 44 // value: {"start","stop"}
	OpZCard  uint8 = 45

	OpExpireMember uint8 = 50 // value: {"member","ttl","unit"}
	OpTTLMember    uint8 = 51
)

// Response status codes.
const (
	StatusOK             uint8 = 0
	StatusKeyNotFound    uint8 = 1
	StatusInvalidRequest uint8 = 2
	StatusWrongType      uint8 = 3
	StatusServerError    uint8 = 4
	// StatusUnsupported: the tenant's collections live in an external
	// store, so only TTL and stats commands are served.
	StatusUnsupported uint8 = 5
)

var (
	ErrKeyTooLong   = errors.New("key too long")
	ErrValueTooLong = errors.New("value too long")
	ErrBadMagic     = errors.New("invalid magic byte")
)

type Packet struct {
	Opcode uint8
	Key    string
	Value  []byte
}

// AppendFrame appends one encoded frame to dst.
func AppendFrame(dst []byte, op uint8, key string, value []byte) ([]byte, error) {
	if len(key) > MaxKeySize {
		return dst, ErrKeyTooLong
	}
	if len(value) > MaxValueSize {
		return dst, ErrValueTooLong
	}

	var hdr [HeaderSize]byte
	hdr[0] = MagicByte
	hdr[1] = op
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(value)))

	dst = append(dst, hdr[:]...)
	dst = append(dst, key...)
	dst = append(dst, value...)
	return dst, nil
}

// WritePacket writes one frame to w.
func WritePacket(w io.Writer, op uint8, key string, value []byte) error {
	buf, err := AppendFrame(make([]byte, 0, HeaderSize+len(key)+len(value)), op, key, value)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadPacket reads one frame from r.
func ReadPacket(r io.Reader) (Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, err
	}
	if header[0] != MagicByte {
		return Packet{}, ErrBadMagic
	}

	op := header[1]
	keyLen := binary.BigEndian.Uint16(header[2:4])
	valLen := binary.BigEndian.Uint32(header[4:8])
	if valLen > MaxValueSize {
		return Packet{}, ErrValueTooLong
	}

	body := make([]byte, int(keyLen)+int(valLen))
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, err
	}

	return Packet{
		Opcode: op,
		Key:    string(body[:keyLen]),
		Value:  body[keyLen:],
	}, nil
}

// parseHeader reports the opcode and total frame size of the frame at the
// start of buf. ok is false while the header is incomplete.
func parseHeader(buf []byte) (op uint8, keyLen int, valLen int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, false, nil
	}
	if buf[0] != MagicByte {
		return 0, 0, 0, false, ErrBadMagic
	}
	op = buf[1]
	keyLen = int(binary.BigEndian.Uint16(buf[2:4]))
	valLen = int(binary.BigEndian.Uint32(buf[4:8]))
	if valLen > MaxValueSize {
		return 0, 0, 0, false, ErrValueTooLong
	}
	return op, keyLen, valLen, true, nil
}
