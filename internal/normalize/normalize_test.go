package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1,234", 1234},
		{"1,234,567.89", 1234567.89},
		{" 42 ", 42},
		{"-1,500", -1500},
		{"１，２３４", 1234},
		{"-", 0},
		{"", 0},
		{"abc", 0},
		{"12.3.4", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseAmount(tt.in), 1e-9)
		})
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12.5%", 0.125},
		{"12.5 %", 0.125},
		{" 100% ", 1},
		{"0.01%", 0.0001},
		{"33", 0.33},
		{"１２．５％", 0.125},
		{"-", 0},
		{"", 0},
		{"n/a", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParsePercent(tt.in), 1e-12)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "empty", KindEmpty.String())
	assert.Equal(t, "placeholder", KindPlaceholder.String())
	assert.Equal(t, "number", KindNumber.String())
	assert.Equal(t, "invalid", KindInvalid.String())
}

func TestParseNumber_DistinguishesZeroFromPlaceholder(t *testing.T) {
	v, k := ParseNumber("0")
	assert.Equal(t, 0.0, v)
	assert.Equal(t, KindNumber, k)

	v, k = ParseNumber("-")
	assert.Equal(t, 0.0, v)
	assert.Equal(t, KindPlaceholder, k)
}

func TestParseFraction(t *testing.T) {
	v, k := ParseFraction("62.5%")
	assert.InDelta(t, 0.625, v, 1e-12)
	assert.Equal(t, KindNumber, k)

	v, k = ParseFraction("-")
	assert.Equal(t, 0.0, v)
	assert.Equal(t, KindPlaceholder, k)

	v, k = ParseFraction("n/a%")
	assert.Equal(t, 0.0, v)
	assert.Equal(t, KindInvalid, k)
}

func TestParseShortDate(t *testing.T) {
	got, err := ParseShortDate("기준일자: 24. 3. 5 (일)")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseShortDate("(기준일: 23.12.31)")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), got)
}

func TestParseShortDate_NotFound(t *testing.T) {
	_, err := ParseShortDate("기준일자 없음")
	assert.ErrorIs(t, err, ErrDateNotFound)

	_, err = ParseShortDate("")
	assert.ErrorIs(t, err, ErrDateNotFound)
}

func TestParseShortDate_InvalidCalendarDate(t *testing.T) {
	_, err := ParseShortDate("24. 2. 30")
	assert.ErrorIs(t, err, ErrInvalidDate)
	assert.NotErrorIs(t, err, ErrDateNotFound)

	_, err = ParseShortDate("기준일자 : 24. 13. 5")
	assert.ErrorIs(t, err, ErrInvalidDate)
	assert.Contains(t, err.Error(), "24. 13. 5")
}

func TestParseListDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"20240305", "2024-03-05", "2024.03.05", " 2024/03/05 "} {
		got, ok := ParseListDate(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseListDate("")
	assert.False(t, ok)
	_, ok = ParseListDate("March 5")
	assert.False(t, ok)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "주식", Label("  주식 "))
	assert.Equal(t, "해외 주식", Label("해외\n  주식"))
	// Decomposed jamo are recomposed.
	assert.Equal(t, "주식", Label("\u110C\u116E\u1109\u1175\u11A8"))
}
