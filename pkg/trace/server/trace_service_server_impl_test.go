package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	resourcev1 "go.opentelemetry.io/proto/otlp/resource/v1"
	v1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/trace/model"
)

type capturingIngestor struct {
	tenantIDs []string
	batches   []map[string][]model.Span
}

func (c *capturingIngestor) Ingest(tenantID string, spansByTrace map[string][]model.Span) {
	c.tenantIDs = append(c.tenantIDs, tenantID)
	c.batches = append(c.batches, spansByTrace)
}

func stringAttr(key, value string) *commonv1.KeyValue {
	return &commonv1.KeyValue{
		Key:   key,
		Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonv1.KeyValue {
	return &commonv1.KeyValue{
		Key:   key,
		Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: value}},
	}
}

func buildRequest(tenantID string, spans ...*v1.Span) *protoTrace.ExportTraceServiceRequest {
	attrs := []*commonv1.KeyValue{stringAttr("service.name", "payment")}
	if tenantID != "" {
		attrs = append(attrs, stringAttr(tenantAttributeKey, tenantID))
	}
	return &protoTrace.ExportTraceServiceRequest{
		ResourceSpans: []*v1.ResourceSpans{
			{
				Resource:   &resourcev1.Resource{Attributes: attrs},
				ScopeSpans: []*v1.ScopeSpans{{Spans: spans}},
			},
		},
	}
}

func TestTraceServiceServer(t *testing.T) {
	start := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	protoSpan := func(name string, traceID, spanID, parentID []byte) *v1.Span {
		return &v1.Span{
			Name:              name,
			TraceId:           traceID,
			SpanId:            spanID,
			ParentSpanId:      parentID,
			StartTimeUnixNano: uint64(start.UnixNano()),
			EndTimeUnixNano:   uint64(start.Add(250 * time.Millisecond).UnixNano()),
			Status:            &v1.Status{Code: v1.Status_STATUS_CODE_ERROR},
			Attributes: []*commonv1.KeyValue{
				stringAttr("currency", "USD"),
				intAttr("http.status_code", 503),
			},
		}
	}

	t.Run("Converts and forwards spans with tenant and trace grouping", func(t *testing.T) {
		ingestor := &capturingIngestor{}
		server := NewTraceServiceServerImpl(zap.NewNop(), ingestor)

		traceA := []byte{0x01, 0x02}
		traceB := []byte{0x03, 0x04}
		req := buildRequest("tenant-a",
			protoSpan("payment.charge_card", traceA, []byte{0xaa}, nil),
			protoSpan("db.query", traceA, []byte{0xbb}, []byte{0xaa}),
			protoSpan("other.op", traceB, []byte{0xcc}, nil),
		)

		_, err := server.Export(context.Background(), req)
		assert.NoError(t, err)
		assert.Equal(t, []string{"tenant-a"}, ingestor.tenantIDs)
		assert.Len(t, ingestor.batches, 1)

		batch := ingestor.batches[0]
		assert.Len(t, batch, 2)
		assert.Len(t, batch["0102"], 2)
		assert.Len(t, batch["0304"], 1)

		span := batch["0102"][0]
		assert.Equal(t, "payment.charge_card", span.OperationName)
		assert.Equal(t, "payment", span.ServiceName)
		assert.Equal(t, "error", span.Status)
		assert.Equal(t, "aa", span.SpanID)
		assert.Equal(t, start, span.StartTime.UTC())
		assert.True(t, span.IsRoot())
		assert.False(t, batch["0102"][1].IsRoot())
	})

	t.Run("Flattens numeric attributes to strings", func(t *testing.T) {
		ingestor := &capturingIngestor{}
		server := NewTraceServiceServerImpl(zap.NewNop(), ingestor)

		_, err := server.Export(context.Background(),
			buildRequest("tenant-a", protoSpan("op", []byte{0x01}, []byte{0xaa}, nil)))
		assert.NoError(t, err)

		span := ingestor.batches[0]["01"][0]
		assert.Equal(t, "503", span.Attributes["http.status_code"])
		assert.Equal(t, "USD", span.Attributes["currency"])
	})

	t.Run("Forwards an empty tenant for the pipeline to reject", func(t *testing.T) {
		ingestor := &capturingIngestor{}
		server := NewTraceServiceServerImpl(zap.NewNop(), ingestor)

		_, err := server.Export(context.Background(),
			buildRequest("", protoSpan("op", []byte{0x01}, []byte{0xaa}, nil)))
		assert.NoError(t, err)
		assert.Equal(t, []string{""}, ingestor.tenantIDs)
	})

	t.Run("Maps a missing status to unset", func(t *testing.T) {
		ingestor := &capturingIngestor{}
		server := NewTraceServiceServerImpl(zap.NewNop(), ingestor)

		span := protoSpan("op", []byte{0x01}, []byte{0xaa}, nil)
		span.Status = nil
		_, err := server.Export(context.Background(), buildRequest("tenant-a", span))
		assert.NoError(t, err)
		assert.Equal(t, "unset", ingestor.batches[0]["01"][0].Status)
	})
}
