// Package wire reads DNS query packets and writes negative responses
// directly in RFC 1035 wire format.
package wire

import (
	"github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/domain"
)

// Codec is the packet-level contract used by the interception loop.
type Codec interface {
	// DecodeQuestionName returns the name of the first question.
	DecodeQuestionName(packet []byte) (string, error)
	// DecodeQuery returns the header and first question of a query packet.
	DecodeQuery(packet []byte) (domain.DNSQuery, error)
	// SynthesizeNegativeResponse builds an NXDOMAIN reply to query.
	SynthesizeNegativeResponse(query []byte) ([]byte, error)
}

// udpCodec implements Codec for DNS over UDP payloads.
type udpCodec struct {
	logger log.Logger
}

// NewUDPCodec creates a codec that reports malformed packets to logger at
// debug level.
func NewUDPCodec(logger log.Logger) *udpCodec {
	return &udpCodec{logger: logger}
}

func (c *udpCodec) DecodeQuestionName(packet []byte) (string, error) {
	name, err := DecodeQuestionName(packet)
	if err != nil {
		c.logger.Debug(log.Fields{"size": len(packet), "error": err.Error()}, "wire_decode_name_failed")
	}
	return name, err
}

func (c *udpCodec) DecodeQuery(packet []byte) (domain.DNSQuery, error) {
	q, err := DecodeQuery(packet)
	if err != nil {
		c.logger.Debug(log.Fields{"size": len(packet), "error": err.Error()}, "wire_decode_query_failed")
	}
	return q, err
}

func (c *udpCodec) SynthesizeNegativeResponse(query []byte) ([]byte, error) {
	return SynthesizeNegativeResponse(query)
}

var _ Codec = &udpCodec{}
