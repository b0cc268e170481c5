package service

import "testing"

func TestCommissionFor(t *testing.T) {
	cases := []struct {
		price, rate, want float64
	}{
		{100.00, 0.10, 10.00},
		{87.50, 0.10, 8.75},
		{19.99, 0.10, 2.00},
		{80.00, 0.15, 12.00},
		{45.00, 0.10, 4.50},
	}
	for _, tc := range cases {
		if got := commissionFor(tc.price, tc.rate); got != tc.want {
			t.Errorf("commissionFor(%v, %v) = %v, want %v", tc.price, tc.rate, got, tc.want)
		}
	}
}
