package domain

// DNSQuery is the logical view of a raw DNS query packet: the fixed 12-byte
// header followed by the first question.
type DNSQuery struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
	Name    string
	Type    uint16
	Class   uint16
}

// IsResponse reports whether the QR bit is set.
func (q DNSQuery) IsResponse() bool { return q.Flags&0x8000 != 0 }
