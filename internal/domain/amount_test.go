package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "500", want: 500},
		{raw: `"2000"`, want: 2000},
		{raw: "1.25e3", want: 1250},
		{raw: "-7", want: -7},
		{raw: "12.50", wantErr: true},
		{raw: "0.5", wantErr: true},
		{raw: "1e-2", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "99999999999999999999", wantErr: true},
		{raw: "9223372036854775807", want: 9223372036854775807},
		{raw: "9223372036854775808", wantErr: true},
		{raw: "1e18", want: 1_000_000_000_000_000_000},
		{raw: "1e19", wantErr: true},
		{raw: "1000e-3", want: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAmount(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmountRejectsHugeNumbersQuickly(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"1e1000000",
		"1e999999999",
		"1e2147483647",
		"1e-999999999",
		"5E+999999999",
		"1" + strings.Repeat("0", 999),
	}

	for _, raw := range inputs {
		raw := raw
		name := raw
		if len(name) > 20 {
			name = name[:20] + "..."
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			start := time.Now()
			_, err := ParseAmount(raw)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.Less(t, time.Since(start), 100*time.Millisecond)
		})
	}
}

func TestValidateAmount(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateAmount(1, 10))
	assert.NoError(t, ValidateAmount(10, 10))
	assert.ErrorIs(t, ValidateAmount(0, 10), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(-3, 10), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(11, 10), ErrInvalidAmount)
}

func TestTruncateMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dinner", TruncateMessage("  dinner "))

	long := strings.Repeat("é", MaxMessageLength+20)
	got := TruncateMessage(long)
	assert.Equal(t, MaxMessageLength, len([]rune(got)))
}

func TestErrorMatchesByCode(t *testing.T) {
	t.Parallel()

	wrapped := Wrap(ErrSettlementFailed, errors.New("connection reset"))
	assert.ErrorIs(t, wrapped, ErrSettlementFailed)
	assert.NotErrorIs(t, wrapped, ErrInsufficientBalance)
	assert.Equal(t, CodeSettlementFailed, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Contains(t, wrapped.Error(), "connection reset")
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	a, err := ParseAction("accept")
	require.NoError(t, err)
	assert.Equal(t, ActionAccept, a)

	a, err = ParseAction(" REJECT ")
	require.NoError(t, err)
	assert.Equal(t, ActionReject, a)

	_, err = ParseAction("maybe")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestDefaultUsername(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bob", DefaultUsername("", "bob@example.com"))
	assert.Equal(t, "Roberto", DefaultUsername("Roberto", "bob@example.com"))
	assert.Equal(t, "bob@example.com", NormalizeEmail(" Bob@Example.com "))
}
