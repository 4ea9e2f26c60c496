package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/mdlayher/vsock"
)

// Errors returned during the remote signing exchange.
var (
	ErrTransportUnavailable = errors.New("cannot reach quote generation service")
	ErrEmptyResponse        = errors.New("quote generation service returned no data")
	ErrShortRead            = errors.New("quote generation service returned implausibly few bytes")
)

const (
	// QGSVsockPort is the fixed vsock port the quote generation service
	// listens on.
	QGSVsockPort = 4050

	// QuoteBufferSize bounds a single quote response.
	QuoteBufferSize = 8192

	// MinQuoteResponseSize is the smallest plausible signed quote. Responses
	// below it are treated as a transport failure, not a quote.
	MinQuoteResponseSize = 1000

	// DefaultTimeout bounds the whole connect-send-receive exchange so a hung
	// quoting service cannot stall a boot-critical path.
	DefaultTimeout = 30 * time.Second
)

// Dialer opens the point-to-point channel to the quote generation service.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// VsockDialer dials the host over AF_VSOCK.
type VsockDialer struct {
	ContextID uint32
	Port      uint32
}

// NewHostQGSDialer returns a dialer for the quote generation service running
// on the hypervisor host.
func NewHostQGSDialer() *VsockDialer {
	return &VsockDialer{ContextID: vsock.Host, Port: QGSVsockPort}
}

func (d *VsockDialer) Dial(ctx context.Context) (net.Conn, error) {
	// mdlayher/vsock has no DialContext; bound the connect attempt manually.
	type dialResult struct {
		conn *vsock.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := vsock.Dial(d.ContextID, d.Port, nil)
		ch <- dialResult{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Client fetches one signed quote per call. It holds no state between calls
// and never retries.
type Client struct {
	Reports ReportProvider
	Dialer  Dialer
	Timeout time.Duration
	Log     *slog.Logger
}

// NewClient returns a client wired to the TDX guest device and the host-side
// quote generation service.
func NewClient(log *slog.Logger) *Client {
	return &Client{
		Reports: DeviceReportProvider{},
		Dialer:  NewHostQGSDialer(),
		Timeout: DefaultTimeout,
		Log:     log,
	}
}

// FetchQuote requests a TDREPORT bound to nonce and exchanges it for a signed
// quote. A nil nonce selects the diagnostic filler pattern; callers needing
// freshness must supply their own.
func (c *Client) FetchQuote(ctx context.Context, nonce []byte) ([]byte, error) {
	reportData, err := PadReportData(nonce)
	if err != nil {
		return nil, err
	}

	report, err := c.Reports.Report(reportData)
	if err != nil {
		return nil, err
	}
	c.Log.Debug("TDREPORT generated", "bytes", len(report))

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Raw-mode QGS protocol: one send of the report, one receive of the
	// signed quote, no framing.
	if _, err := conn.Write(report); err != nil {
		return nil, fmt.Errorf("%w: sending report: %v", ErrTransportUnavailable, err)
	}

	buf := make([]byte, QuoteBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: receiving quote: %v", ErrTransportUnavailable, err)
		}
		return nil, ErrEmptyResponse
	}
	if n < MinQuoteResponseSize {
		return nil, fmt.Errorf("%w: got %d bytes, expected at least %d", ErrShortRead, n, MinQuoteResponseSize)
	}

	c.Log.Info("Received signed quote", "bytes", n)
	return buf[:n], nil
}
