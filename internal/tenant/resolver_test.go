package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubdomain(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"acme.example-platform.com", "acme"},
		{"acme.example-platform.com:8080", "acme"},
		{"ACME.example-platform.com", "acme"},
		{"localhost", "localhost"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Subdomain(tt.host), "host %q", tt.host)
	}
}
