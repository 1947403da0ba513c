package insurance

import (
	"fmt"
	"strconv"
	"strings"
)

// PolicyNumberBase is the number the first policy counts from; the first
// issued policy is POL1001.
const PolicyNumberBase = 1000

const policyPrefix = "POL"

// FormatID renders a client, vehicle or accident identifier.
func FormatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

// ParseID returns the numeric value of a decimal identifier. Non-numeric
// identifiers count as zero, so they never win a max scan.
func ParseID(id string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatPolicyNumber renders a policy number, zero-padded to four digits.
func FormatPolicyNumber(n int64) string {
	return fmt.Sprintf("%s%04d", policyPrefix, n)
}

// ParsePolicyNumber extracts the numeric part of "POL<digits>".
func ParsePolicyNumber(s string) (int64, bool) {
	if !strings.HasPrefix(s, policyPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(s[len(policyPrefix):], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
