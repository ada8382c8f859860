package receiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/storage/memory"
	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

func exportRequest(levels ...string) *collogspb.ExportLogsServiceRequest {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := make([]*logspb.LogRecord, len(levels))
	for i, level := range levels {
		records[i] = &logspb.LogRecord{
			TimeUnixNano: uint64(base.Add(time.Duration(i) * time.Second).UnixNano()),
			SeverityText: level,
			Body:         &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "msg"}},
		}
	}
	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
				Key:   "service.name",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "Database"}},
			}}},
			ScopeLogs: []*logspb.ScopeLogs{{LogRecords: records}},
		}},
	}
}

func TestHTTPReceiver_Protobuf(t *testing.T) {
	store := memory.New()
	r := NewHTTPReceiver(":0", store, nil)

	body, err := proto.Marshal(exportRequest("ERROR", "INFO"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-protobuf")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-protobuf", rec.Header().Get("Content-Type"))

	events, err := store.ListEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.LevelError, events[0].Level)
	assert.Equal(t, "Database", events[0].Component)
}

func TestHTTPReceiver_GzipJSON(t *testing.T) {
	store := memory.New()
	r := NewHTTPReceiver(":0", store, nil)

	payload, err := protojson.Marshal(exportRequest("WARN"))
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	n, err := store.CountEvents(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHTTPReceiver_Rejects(t *testing.T) {
	r := NewHTTPReceiver(":0", memory.New(), nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", bytes.NewBufferString("plain"))
	req.Header.Set("Content-Encoding", "gzip")
	rec = httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPReceiver_Health(t *testing.T) {
	r := NewHTTPReceiver(":0", memory.New(), nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGRPCReceiver_Export(t *testing.T) {
	store := memory.New()
	r := NewGRPCReceiver("127.0.0.1:0", store, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go r.Serve(lis)
	defer r.Shutdown(context.Background())

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := collogspb.NewLogsServiceClient(conn).Export(ctx, exportRequest("ERROR", "CRITICAL", "INFO"))
	require.NoError(t, err)
	assert.Zero(t, resp.GetPartialSuccess().GetRejectedLogRecords())

	events, err := store.ListEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.LevelCritical, events[1].Level)
}
