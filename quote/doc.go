// Package quote decodes raw TDX quote buffers into named trust measurements.
//
// A quote is produced by hardware and firmware and signed by the Quote
// Generation Service; this package never generates or signs quotes, it only
// slices the fixed binary layout into MRTD, RTMR0-RTMR3 and the report data
// nonce so that other components can compare measurements field by field.
//
// The byte offsets of the measurement fields are carried in a Layout value
// rather than hard-coded in the parser. DefaultLayout matches the 48-byte
// header format emitted by the DCAP quote generation service; deployments
// with a different quoting stack can supply their own table after validating
// it against a captured sample.
//
// Basic usage:
//
//	raw, err := os.ReadFile("quote.bin")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	m, err := quote.Parse(raw)
//	if err != nil {
//		log.Fatalf("malformed quote: %v", err)
//	}
//
//	fmt.Println(m.Hex()["RTMR0"])
package quote
