package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Nil(t, r.Get("hubspot"))
	assert.Empty(t, r.List())

	h := NewHubSpot("https://api.hubapi.com", time.Second, 1)
	r.Register(h)

	assert.Same(t, Provider(h), r.Get("hubspot"))
	assert.Nil(t, r.Get("dynamics"))
	assert.Equal(t, []string{"hubspot"}, r.List())
}

func TestNativeRecordStr(t *testing.T) {
	t.Parallel()

	rec := NativeRecord{
		"id": "42",
		"properties": map[string]any{
			"email": " jo@acme.com ",
			"count": 3,
		},
	}

	assert.Equal(t, "42", rec.Str("id"))
	assert.Equal(t, "jo@acme.com", rec.Str("properties", "email"))
	assert.Equal(t, "", rec.Str("properties", "missing"))
	assert.Equal(t, "", rec.Str("properties", "count"))
	assert.Equal(t, "", rec.Str("id", "nested"))
	assert.Equal(t, "", rec.Str("nope"))
}

func TestFullName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Jo Rivera", fullName("Jo", "Rivera", ""))
	assert.Equal(t, "Explicit Name", fullName("Jo", "Rivera", "Explicit Name"))
	assert.Equal(t, "Jo", fullName("Jo", "", ""))
	assert.Equal(t, "Rivera", fullName("", "Rivera", ""))
	assert.Equal(t, "", fullName("", "", ""))
}

func TestSplitName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in          string
		first, last string
	}{
		{"Jo Rivera", "Jo", "Rivera"},
		{"Jo", "Jo", ""},
		{"Jo de la Cruz", "Jo", "de la Cruz"},
		{"  Jo Rivera  ", "Jo", "Rivera"},
		{"", "", ""},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	rfc := parseTime("2026-05-01T10:30:00Z")
	assert.Equal(t, 2026, rfc.Year())

	sf := parseTime("2026-05-01T10:30:00.000-0700")
	assert.False(t, sf.IsZero())

	pd := parseTime("2026-05-01 10:30:00")
	assert.False(t, pd.IsZero())

	assert.True(t, parseTime("not a time").IsZero())
	assert.True(t, parseTime("").IsZero())
}
