package insurance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/insurance-engine/insurance"
)

func TestPolicyNumber_RoundTrip(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{7, "POL0007"},
		{insurance.PolicyNumberBase + 1, "POL1001"},
		{12345, "POL12345"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := insurance.FormatPolicyNumber(tt.n)
			assert.Equal(t, tt.want, got)

			n, ok := insurance.ParsePolicyNumber(got)
			assert.True(t, ok)
			assert.Equal(t, tt.n, n)
		})
	}
}

func TestParsePolicyNumber_Rejects(t *testing.T) {
	for _, s := range []string{"", "POL", "pol1001", "XPOL1001", "POL10a1", "POL-5"} {
		_, ok := insurance.ParsePolicyNumber(s)
		assert.False(t, ok, s)
	}
}

func TestParseID(t *testing.T) {
	assert.Equal(t, int64(12), insurance.ParseID("12"))
	assert.Equal(t, int64(12), insurance.ParseID(" 12 "))
	assert.Equal(t, int64(0), insurance.ParseID("abc"))
	assert.Equal(t, int64(0), insurance.ParseID("-3"))
	assert.Equal(t, "42", insurance.FormatID(42))
}
