package wire

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/haukened/nullroute/internal/dns/domain"
)

const (
	headerLen = 12

	// flag bits of byte 2 and byte 3 of the header
	flagQR     = 0x80
	flagOpcode = 0x78
	flagAA     = 0x04
	flagRD     = 0x01

	// RA, Z, AD and CD in byte 3
	flagsHighNibble = 0xF0

	labelPointerMask = 0xC0
)

// DecodeQuestionName reads the first question name starting right after the
// header. Labels are joined with '.' and returned as sent, without case
// folding or a trailing dot.
//
// Errors wrap domain.ErrMalformedPacket when the packet is shorter than 13
// bytes, a label runs past the buffer, a compression pointer is found, or
// the name is empty.
func DecodeQuestionName(packet []byte) (string, error) {
	name, _, err := readName(packet)
	return name, err
}

// DecodeQuery reads the header and the first question. Only the first
// question is decoded regardless of QDCOUNT.
func DecodeQuery(packet []byte) (domain.DNSQuery, error) {
	name, end, err := readName(packet)
	if err != nil {
		return domain.DNSQuery{}, err
	}
	if end+4 > len(packet) {
		return domain.DNSQuery{}, fmt.Errorf("%w: question type/class truncated", domain.ErrMalformedPacket)
	}
	return domain.DNSQuery{
		ID:      binary.BigEndian.Uint16(packet[0:2]),
		Flags:   binary.BigEndian.Uint16(packet[2:4]),
		QDCount: binary.BigEndian.Uint16(packet[4:6]),
		ANCount: binary.BigEndian.Uint16(packet[6:8]),
		NSCount: binary.BigEndian.Uint16(packet[8:10]),
		ARCount: binary.BigEndian.Uint16(packet[10:12]),
		Name:    name,
		Type:    binary.BigEndian.Uint16(packet[end : end+2]),
		Class:   binary.BigEndian.Uint16(packet[end+2 : end+4]),
	}, nil
}

// readName decodes the name at offset 12 and returns it with the offset of
// the first byte after its terminating zero octet.
func readName(packet []byte) (string, int, error) {
	if len(packet) <= headerLen {
		return "", 0, fmt.Errorf("%w: %d bytes is shorter than a header plus name", domain.ErrMalformedPacket, len(packet))
	}

	var b strings.Builder
	offset := headerLen
	for {
		if offset >= len(packet) {
			return "", 0, fmt.Errorf("%w: name not terminated", domain.ErrMalformedPacket)
		}
		l := int(packet[offset])
		offset++
		if l == 0 {
			break
		}
		if l&labelPointerMask != 0 {
			return "", 0, fmt.Errorf("%w: compressed or extended label 0x%02x", domain.ErrMalformedPacket, l)
		}
		if offset+l > len(packet) {
			return "", 0, fmt.Errorf("%w: label length %d past end of packet", domain.ErrMalformedPacket, l)
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.Write(packet[offset : offset+l])
		offset += l
	}

	if b.Len() == 0 {
		return "", 0, fmt.Errorf("%w: empty question name", domain.ErrMalformedPacket)
	}
	return b.String(), offset, nil
}
