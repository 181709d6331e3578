package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAuthMetrics_Counts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewAuthMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewAuthMetrics: %v", err)
	}

	ctx := context.Background()
	m.Login(ctx, OutcomeSuccess)
	m.Login(ctx, OutcomeRejected)
	m.Refresh(ctx, OutcomeSuccess)
	m.ReuseDetected(ctx)
	m.Revocation(ctx, "reuse_detected")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", md.Name, md.Data)
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	want := map[string]int64{
		"auth.logins":                 2,
		"auth.refreshes":              1,
		"auth.refresh_reuse_detected": 1,
		"auth.session_revocations":    1,
	}
	for name, n := range want {
		if totals[name] != n {
			t.Errorf("%s = %d, want %d", name, totals[name], n)
		}
	}
}

func TestAuthMetrics_NilIsNoop(t *testing.T) {
	var m *AuthMetrics
	ctx := context.Background()
	m.Login(ctx, OutcomeSuccess)
	m.Refresh(ctx, OutcomeRevoked)
	m.ReuseDetected(ctx)
	m.Revocation(ctx, "logout")
}
