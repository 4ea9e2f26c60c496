package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubReportProvider struct {
	report []byte
	err    error

	gotReportData [ReportDataSize]byte
}

func (s *stubReportProvider) Report(reportData [ReportDataSize]byte) ([]byte, error) {
	s.gotReportData = reportData
	return s.report, s.err
}

// pipeDialer hands out the client side of a net.Pipe and runs the given
// server function on the other end.
type pipeDialer struct {
	serve func(conn net.Conn)
}

func (d *pipeDialer) Dial(ctx context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	go d.serve(server)
	return client, nil
}

type failingDialer struct{}

func (failingDialer) Dial(ctx context.Context) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFetchQuoteExchange(t *testing.T) {
	report := make([]byte, 1024)
	for i := range report {
		report[i] = byte(i)
	}
	signedQuote := make([]byte, 4870)
	signedQuote[0] = 4

	var serverGot []byte
	dialer := &pipeDialer{serve: func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, len(report))
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		serverGot = buf[:n]
		conn.Write(signedQuote)
	}}

	provider := &stubReportProvider{report: report}
	client := &Client{
		Reports: provider,
		Dialer:  dialer,
		Timeout: 5 * time.Second,
		Log:     testLogger(),
	}

	quote, err := client.FetchQuote(context.Background(), []byte("freshness-nonce"))
	require.NoError(t, err)
	require.Equal(t, signedQuote, quote)
	require.Equal(t, report, serverGot)

	// The nonce must land at the start of the report data, zero padded.
	require.Equal(t, []byte("freshness-nonce"), provider.gotReportData[:15])
	require.Equal(t, make([]byte, ReportDataSize-15), provider.gotReportData[15:])
}

func TestFetchQuoteFillerNonce(t *testing.T) {
	dialer := &pipeDialer{serve: func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write(make([]byte, MinQuoteResponseSize))
	}}

	provider := &stubReportProvider{report: make([]byte, 1024)}
	client := &Client{Reports: provider, Dialer: dialer, Timeout: 5 * time.Second, Log: testLogger()}

	_, err := client.FetchQuote(context.Background(), nil)
	require.NoError(t, err)

	// Nil nonce selects the deterministic diagnostic pattern.
	for i := 0; i < ReportDataSize; i++ {
		require.Equal(t, byte(i), provider.gotReportData[i])
	}
}

func TestFetchQuoteNonceTooLong(t *testing.T) {
	client := &Client{Reports: &stubReportProvider{}, Dialer: failingDialer{}, Log: testLogger()}
	_, err := client.FetchQuote(context.Background(), make([]byte, ReportDataSize+1))
	require.Error(t, err)
}

func TestFetchQuoteReportFailure(t *testing.T) {
	provider := &stubReportProvider{err: ErrReportGenerationFailed}
	client := &Client{Reports: provider, Dialer: failingDialer{}, Log: testLogger()}

	_, err := client.FetchQuote(context.Background(), nil)
	require.ErrorIs(t, err, ErrReportGenerationFailed)
}

func TestFetchQuoteTransportUnavailable(t *testing.T) {
	provider := &stubReportProvider{report: make([]byte, 1024)}
	client := &Client{Reports: provider, Dialer: failingDialer{}, Timeout: time.Second, Log: testLogger()}

	_, err := client.FetchQuote(context.Background(), nil)
	require.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestFetchQuoteEmptyResponse(t *testing.T) {
	dialer := &pipeDialer{serve: func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Close()
	}}
	provider := &stubReportProvider{report: make([]byte, 1024)}
	client := &Client{Reports: provider, Dialer: dialer, Timeout: 5 * time.Second, Log: testLogger()}

	_, err := client.FetchQuote(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestFetchQuoteShortRead(t *testing.T) {
	dialer := &pipeDialer{serve: func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write(make([]byte, 37))
	}}
	provider := &stubReportProvider{report: make([]byte, 1024)}
	client := &Client{Reports: provider, Dialer: dialer, Timeout: 5 * time.Second, Log: testLogger()}

	_, err := client.FetchQuote(context.Background(), nil)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestFetchQuoteTimeout(t *testing.T) {
	// Server accepts but never responds; the exchange must be bounded by the
	// client timeout.
	dialer := &pipeDialer{serve: func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		// Hold the connection open without writing.
		time.Sleep(2 * time.Second)
		conn.Close()
	}}
	provider := &stubReportProvider{report: make([]byte, 1024)}
	client := &Client{Reports: provider, Dialer: dialer, Timeout: 100 * time.Millisecond, Log: testLogger()}

	start := time.Now()
	_, err := client.FetchQuote(context.Background(), nil)
	require.ErrorIs(t, err, ErrTransportUnavailable)
	require.Less(t, time.Since(start), time.Second)
}

func TestPadReportData(t *testing.T) {
	padded, err := PadReportData([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), padded[0])
	require.Equal(t, byte(0xBB), padded[1])
	require.Equal(t, byte(0x00), padded[2])

	_, err = PadReportData(make([]byte, 65))
	require.Error(t, err)
}
