package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/haukened/nullroute/internal/dns/domain"
)

// SynthesizeNegativeResponse turns a query into its NXDOMAIN reply.
//
// The result is a copy of query with:
//   - the transaction ID unchanged
//   - QR and AA set, opcode and RD echoed from the query
//   - the high nibble of byte 3 (RA, Z, AD, CD) echoed and RCODE 3
//     (name does not exist)
//   - ANCOUNT, NSCOUNT and ARCOUNT zero
//
// When the first question decodes, everything after it (EDNS OPT records
// and other additional data) is dropped and QDCOUNT is 1. Otherwise the
// body is copied verbatim. Only a packet shorter than the header fails.
func SynthesizeNegativeResponse(query []byte) ([]byte, error) {
	if len(query) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a header", domain.ErrMalformedPacket, len(query))
	}

	end := len(query)
	qdcount := binary.BigEndian.Uint16(query[4:6])
	if _, nameEnd, err := readName(query); err == nil && nameEnd+4 <= len(query) {
		end = nameEnd + 4
		qdcount = 1
	}

	resp := make([]byte, end)
	copy(resp, query[:end])

	resp[2] = flagQR | flagAA | query[2]&(flagOpcode|flagRD)
	resp[3] = query[3]&flagsHighNibble | byte(domain.RCodeNXDomain)
	binary.BigEndian.PutUint16(resp[4:6], qdcount)
	binary.BigEndian.PutUint16(resp[6:8], 0)
	binary.BigEndian.PutUint16(resp[8:10], 0)
	binary.BigEndian.PutUint16(resp[10:12], 0)
	return resp, nil
}
