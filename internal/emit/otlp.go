package emit

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"
)

// DefaultOTLPTimeout is the HTTP client timeout for collector POSTs.
const DefaultOTLPTimeout = 10 * time.Second

// OTLPSink posts events as protobuf-encoded OTLP log records to an
// OpenTelemetry collector. Deliveries are synchronous; the Emitter treats
// sink errors as fire-and-forget.
type OTLPSink struct {
	endpoint string
	client   *http.Client
	minSev   Severity
}

// OTLPOption configures an OTLPSink.
type OTLPOption func(*OTLPSink)

// WithOTLPTimeout sets the HTTP client timeout for each POST.
func WithOTLPTimeout(d time.Duration) OTLPOption {
	return func(s *OTLPSink) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// WithOTLPMinSeverity sets the minimum severity for events to be emitted.
func WithOTLPMinSeverity(sev Severity) OTLPOption {
	return func(s *OTLPSink) {
		s.minSev = sev
	}
}

// NewOTLPSink creates an OTLPSink posting to the collector at endpoint.
// The standard /v1/logs path is appended unless already present.
func NewOTLPSink(endpoint string, opts ...OTLPOption) (*OTLPSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("emit: invalid otlp endpoint %q: %w", endpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("emit: otlp endpoint %q must be an absolute http(s) URL", endpoint)
	}
	if !strings.HasSuffix(u.Path, "/v1/logs") {
		u.Path = path.Join(u.Path, "/v1/logs")
	}

	s := &OTLPSink{
		endpoint: u.String(),
		client:   &http.Client{Timeout: DefaultOTLPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Emit posts a single event as an OTLP logs export request.
// Events below the minimum severity are silently dropped.
func (s *OTLPSink) Emit(ctx context.Context, event Event) error {
	if event.Severity < s.minSev {
		return nil
	}

	body, err := proto.Marshal(exportRequest(event))
	if err != nil {
		return fmt.Errorf("emit: otlp marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("emit: otlp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("emit: otlp send: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("emit: otlp collector returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *OTLPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// exportRequest maps an event onto a single-record OTLP logs request.
// The event type travels as the record body; fields become attributes.
func exportRequest(event Event) *collogspb.ExportLogsServiceRequest {
	record := &logspb.LogRecord{
		TimeUnixNano:         uint64(event.Timestamp.UnixNano()),
		ObservedTimeUnixNano: uint64(time.Now().UnixNano()),
		SeverityNumber:       otlpSeverityNumber(event.Severity),
		SeverityText:         event.Severity.String(),
		Body:                 stringValue(event.Type),
		Attributes:           otlpAttributes(event.Fields),
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					{Key: "service.name", Value: stringValue("repovet")},
					{Key: "service.instance.id", Value: stringValue(event.InstanceID)},
				},
			},
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      &commonpb.InstrumentationScope{Name: "github.com/repovet/repovet/internal/emit"},
				LogRecords: []*logspb.LogRecord{record},
			}},
		}},
	}
}

// otlpAttributes converts event fields to OTLP key-values, sorted by key so
// identical events encode identically.
func otlpAttributes(fields map[string]any) []*commonpb.KeyValue {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]*commonpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, &commonpb.KeyValue{Key: k, Value: anyValue(fields[k])})
	}
	return kvs
}

func anyValue(v any) *commonpb.AnyValue {
	switch val := v.(type) {
	case string:
		return stringValue(val)
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: val}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: val}}
	case float64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: val}}
	default:
		return stringValue(fmt.Sprintf("%v", val))
	}
}

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func otlpSeverityNumber(sev Severity) logspb.SeverityNumber {
	switch sev {
	case SeverityCritical:
		return logspb.SeverityNumber_SEVERITY_NUMBER_ERROR
	case SeverityWarn:
		return logspb.SeverityNumber_SEVERITY_NUMBER_WARN
	default:
		return logspb.SeverityNumber_SEVERITY_NUMBER_INFO
	}
}
