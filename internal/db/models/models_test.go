package models

import "testing"

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func TestReportPayment_IsPaid(t *testing.T) {
	tests := []struct {
		name string
		p    ReportPayment
		want bool
	}{
		{"stripe paid", ReportPayment{StripePaymentIntentID: strPtr("pi_123"), AmountPaid: i64Ptr(2999)}, true},
		{"paypal paid", ReportPayment{PayPalOrderID: strPtr("ORDER-1"), AmountPaid: i64Ptr(2999)}, true},
		{"both processors", ReportPayment{StripePaymentIntentID: strPtr("pi_1"), PayPalOrderID: strPtr("O-1"), AmountPaid: i64Ptr(1)}, true},
		{"no processor", ReportPayment{AmountPaid: i64Ptr(2999)}, false},
		{"empty processor ids", ReportPayment{StripePaymentIntentID: strPtr(""), PayPalOrderID: strPtr(""), AmountPaid: i64Ptr(2999)}, false},
		{"amount missing", ReportPayment{StripePaymentIntentID: strPtr("pi_123")}, false},
		{"amount zero", ReportPayment{StripePaymentIntentID: strPtr("pi_123"), AmountPaid: i64Ptr(0)}, false},
		{"nothing", ReportPayment{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.IsPaid(); got != tt.want {
				t.Errorf("IsPaid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReport_IsAnonymous(t *testing.T) {
	r := &Report{ID: "r1"}
	if !r.IsAnonymous() {
		t.Error("IsAnonymous() = false for nil UserID")
	}
	r.UserID = strPtr("user-1")
	if r.IsAnonymous() {
		t.Error("IsAnonymous() = true after UserID set")
	}
}
