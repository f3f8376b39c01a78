package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommissionRateTable(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		method string
		tier   string
		want   float64
	}{
		{"standard ideal", 100, "ideal", "standard", 1.5},
		{"standard creditcard", 100, "creditcard", "standard", 2.9},
		{"plus ideal", 100, "ideal", "plus", 1.2},
		{"enterprise banktransfer", 1000, "banktransfer", "enterprise", 8},
		{"unknown method falls back", 100, "crypto", "standard", 2.9},
		{"unknown tier falls back", 100, "ideal", "bespoke", 2.9},
		{"case insensitive", 100, "IDEAL", "Enterprise", 0.8},
		{"zero amount", 0, "ideal", "standard", 0},
		{"negative amount", -50, "ideal", "standard", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Commission(tt.amount, tt.method, tt.tier), 1e-9)
		})
	}
}
