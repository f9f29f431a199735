package core

import (
	"testing"
)

// TestExpirePeriodPrecision tests the millisecond/second precision split
func TestExpirePeriodPrecision(t *testing.T) {
	testCases := []struct {
		name    string
		deltaMs int64
		wantMs  int64
	}{
		{"Zero", 0, 0},
		{"SmallMs", 1500, 1500},
		{"MaxMsPrecision", msPrecisionMax, msPrecisionMax},
		{"JustOverMsPrecision", msPrecisionMax + 1, ((msPrecisionMax + 1 + 999) / 1000) * 1000},
		{"RoundsUpToSeconds", msPrecisionMax + 500, ((msPrecisionMax + 500 + 999) / 1000) * 1000},
		{"LargeWholeSeconds", 3_000_000_000_000, 3_000_000_000_000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewExpirePeriod(tc.deltaMs)
			if got := p.DurationMs(); got != tc.wantMs {
				t.Errorf("DurationMs() = %d, want %d", got, tc.wantMs)
			}
		})
	}
}

// TestExpirePeriodNeverShortens tests that compression only rounds deadlines up
func TestExpirePeriodNeverShortens(t *testing.T) {
	deltas := []int64{1, 999, 1000, msPrecisionMax, msPrecisionMax + 1, msPrecisionMax + 999, 10_000_000_000}

	for _, delta := range deltas {
		p := NewExpirePeriod(delta)
		if got := p.DurationMs(); got < delta {
			t.Errorf("DurationMs() = %d shortens the requested delta %d", got, delta)
		}
	}
}

// TestExpirePeriodDeadline tests resolution against a table base
func TestExpirePeriodDeadline(t *testing.T) {
	const base = int64(1_700_000_000_000)

	p := NewExpirePeriod(2500)
	if got := p.DeadlineMs(base); got != base+2500 {
		t.Errorf("DeadlineMs() = %d, want %d", got, base+2500)
	}
}

// TestFitsExpirePeriod tests the representable deadline range
func TestFitsExpirePeriod(t *testing.T) {
	testCases := []struct {
		name    string
		deltaMs int64
		fits    bool
	}{
		{"Zero", 0, true},
		{"Negative", -1, false},
		{"Typical", 60_000, true},
		{"MaxDeadline", KMaxExpireDeadlineMs, true},
		{"OverMaxDeadline", KMaxExpireDeadlineMs + 1, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FitsExpirePeriod(tc.deltaMs); got != tc.fits {
				t.Errorf("FitsExpirePeriod(%d) = %v, want %v", tc.deltaMs, got, tc.fits)
			}
		})
	}
}
