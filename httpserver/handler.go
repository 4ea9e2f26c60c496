package httpserver

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"

	vmmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/ruteri/tdx-attest-tools/transport"
)

// QuoteSource produces one signed quote per call.
type QuoteSource interface {
	FetchQuote(ctx context.Context, nonce []byte) ([]byte, error)
}

// Handler serves quote requests.
type Handler struct {
	log    *slog.Logger
	source QuoteSource

	quotesServed  *vmmetrics.Counter
	quoteFailures *vmmetrics.Counter
}

func NewHandler(source QuoteSource, log *slog.Logger) *Handler {
	return &Handler{log: log, source: source}
}

// HandleQuote responds with the base64-encoded signed quote bound to the
// caller's nonce. The nonce is mandatory: a quote served over HTTP is used
// for verification, and verification without freshness is replayable.
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	nonce := r.URL.Query().Get("nonce")
	if nonce == "" {
		http.Error(w, "missing required query parameter: nonce", http.StatusBadRequest)
		return
	}
	if len(nonce) > transport.ReportDataSize {
		http.Error(w, "nonce too long (max 64 bytes)", http.StatusBadRequest)
		return
	}

	raw, err := h.source.FetchQuote(r.Context(), []byte(nonce))
	if err != nil {
		h.log.Error("Failed to generate quote", "err", err)
		if h.quoteFailures != nil {
			h.quoteFailures.Inc()
		}
		http.Error(w, "failed to generate quote", http.StatusInternalServerError)
		return
	}

	h.log.Info("Successfully generated quote", "bytes", len(raw))
	if h.quotesServed != nil {
		h.quotesServed.Inc()
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(base64.StdEncoding.EncodeToString(raw)))
}
