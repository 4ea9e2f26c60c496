package transport

import (
	"errors"
	"fmt"
	"os"

	tdx_client "github.com/google/go-tdx-guest/client"
)

// Errors returned during local report generation.
var (
	ErrDeviceUnavailable      = errors.New("tdx guest device unavailable")
	ErrReportGenerationFailed = errors.New("tdx module rejected report request")
)

// TDXGuestDevice is the device node used to request TDREPORTs.
const TDXGuestDevice = "/dev/tdx_guest"

// ReportDataSize is the size of the caller-controlled nonce embedded in a
// TDREPORT.
const ReportDataSize = 64

// ReportProvider produces a raw TDREPORT bound to the given report data.
type ReportProvider interface {
	Report(reportData [ReportDataSize]byte) ([]byte, error)
}

// DeviceReportProvider requests TDREPORTs from the TDX guest device. It only
// works inside a trust domain.
type DeviceReportProvider struct{}

func (DeviceReportProvider) Report(reportData [ReportDataSize]byte) ([]byte, error) {
	if _, err := os.Stat(TDXGuestDevice); err != nil {
		return nil, fmt.Errorf("%w: %s: %v (not running inside a TDX guest?)", ErrDeviceUnavailable, TDXGuestDevice, err)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer qd.Close()

	report, err := tdx_client.GetReport(qd, reportData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReportGenerationFailed, err)
	}
	return report, nil
}

// PadReportData turns an up-to-64-byte nonce into a full report data block.
// A nil nonce yields the deterministic filler pattern (byte i = i), which is
// acceptable for diagnostics but unsuitable for freshness-sensitive
// verification.
func PadReportData(nonce []byte) ([ReportDataSize]byte, error) {
	var reportData [ReportDataSize]byte
	if nonce == nil {
		for i := range reportData {
			reportData[i] = byte(i)
		}
		return reportData, nil
	}
	if len(nonce) > ReportDataSize {
		return reportData, fmt.Errorf("nonce too long: %d bytes, max %d", len(nonce), ReportDataSize)
	}
	copy(reportData[:], nonce)
	return reportData, nil
}
