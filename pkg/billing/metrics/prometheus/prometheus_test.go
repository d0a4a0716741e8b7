package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBillingMetrics_WebhookCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("mercadopago", "payment", "applied")
	metrics.RecordWebhookEvent("mercadopago", "payment", "applied")
	metrics.RecordWebhookError("mercadopago", "auth_failed")
	metrics.RecordWebhookProcessingDuration("mercadopago", "payment", 15*time.Millisecond)

	if got := testutil.ToFloat64(metrics.webhookEventsTotal.WithLabelValues("mercadopago", "payment", "applied")); got != 2 {
		t.Errorf("Expected 2 applied events, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.webhookErrorsTotal.WithLabelValues("mercadopago", "auth_failed")); got != 1 {
		t.Errorf("Expected 1 auth failure, got %v", got)
	}
}

func TestBillingMetrics_APICalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordAPICall("mercadopago", "/v1/payments/{id}", "200")
	metrics.RecordAPICallDuration("mercadopago", "/v1/payments/{id}", time.Second)
	metrics.RecordPaymentSync("mercadopago", "success")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 3 {
		t.Errorf("Expected 3 metric families, got %d", len(families))
	}
}

func TestBillingMetrics_PaymentStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordPaymentStatus("mercadopago", "approved")
	metrics.RecordPaymentStatus("mercadopago", "rejected")
	metrics.RecordPaymentStatus("stripe", "approved")

	if got := testutil.ToFloat64(metrics.paymentStatusTotal.WithLabelValues("mercadopago", "approved")); got != 1 {
		t.Errorf("Expected 1 approved mercadopago payment, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.paymentStatusTotal); got != 3 {
		t.Errorf("Expected 3 status series, got %d", got)
	}
}
