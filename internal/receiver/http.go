// Package receiver implements OTLP HTTP and gRPC log endpoints.
package receiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fidde/log_anomaly_detector/internal/ingest"
	"github.com/fidde/log_anomaly_detector/internal/metrics"
	"github.com/fidde/log_anomaly_detector/internal/storage"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// maxBodyBytes bounds a single decoded export request.
const maxBodyBytes = 32 << 20

// decompressGzip decompresses gzip-encoded data
func decompressGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// HTTPReceiver handles OTLP HTTP requests.
type HTTPReceiver struct {
	store     storage.Storage
	converter *ingest.LogsConverter
	logger    *slog.Logger
	server    *http.Server
}

// NewHTTPReceiver creates a new HTTP receiver.
func NewHTTPReceiver(addr string, store storage.Storage, logger *slog.Logger) *HTTPReceiver {
	if logger == nil {
		logger = slog.Default()
	}

	r := &HTTPReceiver{
		store:     store,
		converter: ingest.NewLogsConverter(),
		logger:    logger.With("receiver", "otlp_http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs", r.handleLogs)
	mux.HandleFunc("/health", r.handleHealth)

	r.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return r
}

// Handler returns the receiver's HTTP handler.
func (r *HTTPReceiver) Handler() http.Handler {
	return r.server.Handler
}

// Start starts the HTTP server.
func (r *HTTPReceiver) Start() error {
	r.logger.Info("OTLP HTTP receiver listening", "addr", r.server.Addr)
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *HTTPReceiver) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// handleLogs handles OTLP logs export requests.
func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer req.Body.Close()

	ctx := req.Context()

	// Handle compression
	reader := req.Body
	if req.Header.Get("Content-Encoding") == "gzip" {
		var err error
		reader, err = decompressGzip(req.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to decompress: %v", err), http.StatusBadRequest)
			return
		}
		defer reader.Close()
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	// Parse request - try protobuf first, then JSON
	var exportReq collogspb.ExportLogsServiceRequest
	if err := proto.Unmarshal(body, &exportReq); err != nil {
		unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
		if jsonErr := unmarshaler.Unmarshal(body, &exportReq); jsonErr != nil {
			r.logger.Warn("failed to parse logs request",
				"content_type", req.Header.Get("Content-Type"),
				"protobuf_error", err,
				"json_error", jsonErr,
				"body_preview", string(body[:min(len(body), 100)]),
			)
			http.Error(w, fmt.Sprintf("Failed to parse request: protobuf error: %v, json error: %v", err, jsonErr), http.StatusBadRequest)
			return
		}
		r.logger.Debug("parsed logs as JSON", "bytes", len(body))
	} else {
		r.logger.Debug("parsed logs as protobuf", "bytes", len(body))
	}

	events, err := r.converter.Convert(&exportReq)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to convert logs: %v", err), http.StatusBadRequest)
		return
	}

	if err := r.store.StoreEvents(ctx, events); err != nil {
		r.logger.Error("storing events failed", "error", err)
		http.Error(w, fmt.Sprintf("Failed to store events: %v", err), http.StatusInternalServerError)
		return
	}
	metrics.RecordIngest(metrics.SourceOTLPHTTP, len(events))

	// Return success response (always protobuf for OTLP)
	r.writeResponse(w, &collogspb.ExportLogsServiceResponse{})
}

// handleHealth handles health check requests.
func (r *HTTPReceiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeResponse writes a protobuf response.
// OTLP always uses protobuf for responses.
func (r *HTTPReceiver) writeResponse(w http.ResponseWriter, resp proto.Message) {
	respBytes, err := proto.Marshal(resp)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(respBytes))
}
