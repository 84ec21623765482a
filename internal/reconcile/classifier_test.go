package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPositiveTermsWin(t *testing.T) {
	cases := []string{
		"Granted",
		"ACCESS GRANTED",
		"Reactivated",
		"New card",
		"granted after denied",
		"Reactivated (was deleted)",
		"new - previously Access Denied",
	}
	for _, status := range cases {
		assert.Equal(t, Granted, Classify(status), status)
	}
}

func TestClassifyNegativeTerms(t *testing.T) {
	assert.Equal(t, Denied, Classify("Access Denied"))
	assert.Equal(t, Denied, Classify("DENIED"))
	assert.Equal(t, Deleted, Classify("Card Deleted"))
	assert.Equal(t, Deleted, Classify("denied: card deleted"))
}

func TestClassifyBlockedDefaults(t *testing.T) {
	assert.Equal(t, Deleted, Classify(""))
	assert.Equal(t, Deleted, Classify("   "))
	assert.True(t, Classify("").Blocked())

	for _, status := range []string{"Suspended", "pending", "???"} {
		v := Classify(status)
		assert.Equal(t, Unknown, v, status)
		assert.True(t, v.Blocked(), status)
	}
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "granted", Granted.String())
	assert.Equal(t, "denied", Denied.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "unknown", Unknown.String())
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	for _, raw := range []string{
		"2024-03-05T14:30:00Z",
		"2024-03-05T16:30:00+02:00",
		"2024-03-05T14:30:00",
		"2024-03-05 14:30:00",
		"2024-03-05 14:30:00+00",
		"Tue, 05 Mar 2024 14:30:00 GMT",
		"1709649000",
		"1709649000000",
	} {
		assert.True(t, want.Equal(ParseTimestamp(raw)), raw)
	}

	frac := ParseTimestamp("2024-03-05 14:30:00.250")
	assert.Equal(t, 250*time.Millisecond, frac.Sub(want))

	assert.True(t, ParseTimestamp("2024-03-05").Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
}

func TestParseTimestampMalformedIsZero(t *testing.T) {
	for _, raw := range []string{"", "yesterday", "2024-13-45", "-5", "12:00"} {
		assert.True(t, ParseTimestamp(raw).IsZero(), raw)
	}
}
