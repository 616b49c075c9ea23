package server

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	"go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"

	"github.com/spanguard/spanguard/pkg/trace/model"
)

const tenantAttributeKey = "tenant.id"

// SpanIngestor receives one tenant's spans grouped by trace ID. Satisfied by
// the engine pipeline.
type SpanIngestor interface {
	Ingest(tenantID string, spansByTrace map[string][]model.Span)
}

type TraceServiceServerImpl struct {
	protoTrace.UnimplementedTraceServiceServer
	logger   *zap.Logger
	ingestor SpanIngestor
}

func NewTraceServiceServerImpl(
	logger *zap.Logger,
	ingestor SpanIngestor,
) TraceServiceServerImpl {
	logger.Info("Creating new TraceServiceServerImpl")
	return TraceServiceServerImpl{
		logger:   logger,
		ingestor: ingestor,
	}
}

func (tss TraceServiceServerImpl) Export(
	ctx context.Context,
	req *protoTrace.ExportTraceServiceRequest,
) (*protoTrace.ExportTraceServiceResponse, error) {
	for _, resourceSpan := range req.ResourceSpans {
		tenantID := getResourceAttribute(resourceSpan, tenantAttributeKey)
		serviceName := getResourceAttribute(resourceSpan, "service.name")

		typedSpans := getTypedSpans(resourceSpan, serviceName)
		// spans underneath the same resource span may not share a trace id
		groupedSpans := groupTypedSpansByTraceID(typedSpans)
		tss.ingestor.Ingest(tenantID, groupedSpans)
	}

	return &protoTrace.ExportTraceServiceResponse{}, nil
}

func getResourceAttribute(resourceSpan *v1.ResourceSpans, key string) string {
	if resourceSpan.Resource == nil {
		return ""
	}
	for _, attr := range resourceSpan.Resource.Attributes {
		if attr.Key == key {
			return attr.Value.GetStringValue()
		}
	}
	return ""
}

func getTypedSpans(resourceSpan *v1.ResourceSpans, serviceName string) []model.Span {
	var typedSpans []model.Span
	for _, scopeSpan := range resourceSpan.ScopeSpans {
		for _, span := range scopeSpan.Spans {
			typedSpans = append(typedSpans, getTypedSpan(span, serviceName))
		}
	}
	return typedSpans
}

func getTypedSpan(span *v1.Span, serviceName string) model.Span {
	startTime := time.Unix(0, int64(span.StartTimeUnixNano))
	endTime := time.Unix(0, int64(span.EndTimeUnixNano))
	spanId := hex.EncodeToString(span.SpanId)
	parentSpanId := hex.EncodeToString(span.ParentSpanId)
	traceId := hex.EncodeToString(span.TraceId)

	return model.Span{
		SpanID:        spanId,
		ParentSpanID:  parentSpanId,
		TraceID:       traceId,
		ServiceName:   serviceName,
		OperationName: span.Name,
		Status:        getStatus(span),
		StartTime:     startTime,
		EndTime:       endTime,
		Attributes:    getAttributes(span),
	}
}

func getStatus(span *v1.Span) string {
	if span.Status == nil {
		return "unset"
	}
	switch span.Status.Code {
	case v1.Status_STATUS_CODE_OK:
		return "ok"
	case v1.Status_STATUS_CODE_ERROR:
		return "error"
	default:
		return "unset"
	}
}

func getAttributes(span *v1.Span) map[string]string {
	attributes := make(map[string]string)
	for _, attribute := range span.Attributes {
		attributes[attribute.Key] = anyValueToString(attribute.Value)
	}
	return attributes
}

// anyValueToString flattens an OTLP attribute value to its string form so
// numeric and boolean attributes stay comparable.
func anyValueToString(value *commonv1.AnyValue) string {
	if value == nil {
		return ""
	}
	switch v := value.Value.(type) {
	case *commonv1.AnyValue_StringValue:
		return v.StringValue
	case *commonv1.AnyValue_IntValue:
		return strconv.FormatInt(v.IntValue, 10)
	case *commonv1.AnyValue_DoubleValue:
		return strconv.FormatFloat(v.DoubleValue, 'f', -1, 64)
	case *commonv1.AnyValue_BoolValue:
		return strconv.FormatBool(v.BoolValue)
	default:
		return ""
	}
}

func groupTypedSpansByTraceID(spans []model.Span) map[string][]model.Span {
	groupedSpans := make(map[string][]model.Span)
	for _, span := range spans {
		groupedSpans[span.TraceID] = append(groupedSpans[span.TraceID], span)
	}
	return groupedSpans
}
