package quote

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Decoding errors. Anything that would make a trust decision unsound is a
// hard failure; surprising but well-formed content (all-zero RTMRs and the
// like) is not the codec's concern.
var (
	ErrTruncatedQuote     = errors.New("quote buffer shorter than header plus minimum TD report")
	ErrUnsupportedVersion = errors.New("unsupported quote version")
)

const (
	// SupportedVersion is the only quote format version this codec accepts.
	SupportedVersion = 4

	// TEETypeTDX is the TEE type value emitted for TDX quotes. Informational:
	// the decoder reports it but does not reject on it, since the value
	// differs across quoting toolchains.
	TEETypeTDX = 0x81

	// MeasurementSize is the size of MRTD and each RTMR in bytes.
	MeasurementSize = 48

	// ReportDataSize is the size of the caller-controlled report data field.
	ReportDataSize = 64
)

// Layout is the offset table for one quote format. All report field offsets
// are relative to the start of the TD report region, which begins immediately
// after the header. Offsets are layout constants; a format change upstream
// requires an explicit new table, never runtime inference.
type Layout struct {
	HeaderSize    int
	ReportMinSize int

	MRTDOffset       int
	RTMROffsets      [4]int
	ReportDataOffset int
}

// MinQuoteSize is the smallest buffer this layout can decode.
func (l Layout) MinQuoteSize() int {
	return l.HeaderSize + l.ReportMinSize
}

// DefaultLayout matches the full signed quote structure returned by the DCAP
// quote generation service: a 48-byte header followed by the TD report body.
var DefaultLayout = Layout{
	HeaderSize:       48,
	ReportMinSize:    584,
	MRTDOffset:       0,
	RTMROffsets:      [4]int{112, 160, 208, 256},
	ReportDataOffset: 520,
}

// Header is the decoded fixed-size quote header.
type Header struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint16
}

// Measurements is the decoded trust measurement set of a single quote. Each
// register is independently addressable so comparators can name the exact
// field that drifted.
type Measurements struct {
	Header Header

	MRTD       [MeasurementSize]byte
	RTMRs      [4][MeasurementSize]byte
	ReportData [ReportDataSize]byte
}

// Parse decodes a raw quote using DefaultLayout.
func Parse(raw []byte) (*Measurements, error) {
	return DefaultLayout.Parse(raw)
}

// Parse decodes a raw quote buffer against the layout's offset table. It
// rejects truncated buffers and unsupported versions outright and otherwise
// performs no content validation.
func (l Layout) Parse(raw []byte) (*Measurements, error) {
	if len(raw) < l.MinQuoteSize() {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrTruncatedQuote, len(raw), l.MinQuoteSize())
	}

	m := &Measurements{
		Header: Header{
			Version:            binary.LittleEndian.Uint16(raw[0:2]),
			AttestationKeyType: binary.LittleEndian.Uint16(raw[2:4]),
			TEEType:            binary.LittleEndian.Uint16(raw[12:14]),
		},
	}

	if m.Header.Version != SupportedVersion {
		return nil, fmt.Errorf("%w: version=%d, tee_type=0x%02x (expected version %d)",
			ErrUnsupportedVersion, m.Header.Version, m.Header.TEEType, SupportedVersion)
	}

	report := raw[l.HeaderSize:]
	copy(m.MRTD[:], report[l.MRTDOffset:l.MRTDOffset+MeasurementSize])
	for i, off := range l.RTMROffsets {
		copy(m.RTMRs[i][:], report[off:off+MeasurementSize])
	}
	copy(m.ReportData[:], report[l.ReportDataOffset:l.ReportDataOffset+ReportDataSize])

	return m, nil
}

// Hex returns the machine-readable rendering: register name to lowercase hex
// string. This map is the contract the snapshot store and comparator depend
// on.
func (m *Measurements) Hex() map[string]string {
	out := map[string]string{
		"MRTD":       hex.EncodeToString(m.MRTD[:]),
		"ReportData": hex.EncodeToString(m.ReportData[:]),
	}
	for i := range m.RTMRs {
		out[fmt.Sprintf("RTMR%d", i)] = hex.EncodeToString(m.RTMRs[i][:])
	}
	return out
}

// RegisterNames lists the measurement registers in canonical comparison
// order. ReportData is deliberately excluded: it carries the caller nonce and
// is expected to differ between quotes.
func RegisterNames() []string {
	return []string{"MRTD", "RTMR0", "RTMR1", "RTMR2", "RTMR3"}
}

// Dump returns a human-readable multi-line rendering. Debugging aid only;
// nothing should parse this.
func (m *Measurements) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quote version: %d\n", m.Header.Version)
	fmt.Fprintf(&b, "Attestation key type: %d\n", m.Header.AttestationKeyType)
	fmt.Fprintf(&b, "TEE type: 0x%02x\n", m.Header.TEEType)
	fmt.Fprintf(&b, "MRTD:  %x\n", m.MRTD[:])
	for i := range m.RTMRs {
		fmt.Fprintf(&b, "RTMR%d: %x\n", i, m.RTMRs[i][:])
	}
	fmt.Fprintf(&b, "Report data: %x\n", m.ReportData[:])
	return b.String()
}
