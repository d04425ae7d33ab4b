package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"passwordless-auth/internal/util"
)

func TestNormalizeSubjectKey(t *testing.T) {
	assert.Equal(t, "a@x.com", util.NormalizeSubjectKey("  A@X.com \n"))
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"a@x.com", true},
		{"first.last+tag@example.co.uk", true},
		{"subscription@x.com", true},
		{"description@x.com", true},
		{"transcript@x.com", true},
		{"typescript.fan@x.com", true},
		{"simonloads@x.com", true},
		{"tonerror@x.com", true},
		{"a@scripting.io", true},
		{"", false},
		{"not-an-email", false},
		{"Bob <bob@x.com>", false},
		{"<script>@x.com", false},
		{"a@x.com>", false},
		{"a@x.com b@x.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, util.IsValidEmail(tt.in))
		})
	}
}
