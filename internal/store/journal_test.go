package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/core"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	j, err := s.OpenJournal()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalOrders(t *testing.T) {
	j := openTestJournal(t)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordOrder(core.OrderRecord{Time: t0.Add(time.Minute), OrderID: "2", Side: core.Sell, Base: "IOTA", Quote: "ETH", Qty: decimal.NewFromInt(5), Price: decimal.RequireFromString("0.0003")}))
	require.NoError(t, j.RecordOrder(core.OrderRecord{Time: t0, OrderID: "10", Side: core.Buy, Base: "IOTA", Quote: "ETH", Qty: decimal.NewFromInt(20), Price: decimal.RequireFromString("0.0002")}))

	orders, err := j.Orders()
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "10", orders[0].OrderID)
	require.True(t, orders[0].Qty.Equal(decimal.NewFromInt(20)))
	require.Equal(t, "2", orders[1].OrderID)

	require.NoError(t, j.DeleteOrder("10"))
	require.NoError(t, j.DeleteOrder("missing"))
	orders, err = j.Orders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, core.Sell, orders[0].Side)

	require.Error(t, j.RecordOrder(core.OrderRecord{}))
}

func TestJournalPatternsArePerPair(t *testing.T) {
	j := openTestJournal(t)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordPattern(PatternRecord{Time: t0, Base: "iota", Quote: "eth", Pattern: "Hammer", Indication: 100, Price: decimal.RequireFromString("0.0002")}))
	require.NoError(t, j.RecordPattern(PatternRecord{Time: t0, Base: "IOTA", Quote: "ETH", Pattern: "Engulfing", Indication: -100, Price: decimal.RequireFromString("0.0002")}))
	require.NoError(t, j.RecordPattern(PatternRecord{Time: t0, Base: "IOTA", Quote: "ETHX", Pattern: "Hammer", Indication: 100, Price: decimal.NewFromInt(1)}))

	got, err := j.Patterns("IOTA", "ETH")
	require.NoError(t, err)
	require.Len(t, got, 2)
	names := []string{got[0].Pattern, got[1].Pattern}
	require.ElementsMatch(t, []string{"Hammer", "Engulfing"}, names)
	require.Equal(t, "IOTA", got[0].Base)
}

func TestUpdatePatternOutcomesFillsEachWindowOnce(t *testing.T) {
	j := openTestJournal(t)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordPattern(PatternRecord{Time: t0, Base: "IOTA", Quote: "ETH", Pattern: "Hammer", Indication: 100, Price: decimal.NewFromInt(100)}))

	n, err := j.UpdatePatternOutcomes("IOTA", "ETH", decimal.NewFromInt(101), t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Still inside the m5 window: already filled.
	n, err = j.UpdatePatternOutcomes("IOTA", "ETH", decimal.NewFromInt(999), t0.Add(6*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = j.UpdatePatternOutcomes("IOTA", "ETH", decimal.NewFromInt(103), t0.Add(31*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Other pairs are untouched.
	n, err = j.UpdatePatternOutcomes("XRP", "ETH", decimal.NewFromInt(1), t0.Add(60*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	got, err := j.Patterns("IOTA", "ETH")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Outcomes["m5"].Equal(decimal.NewFromInt(101)))
	require.True(t, got[0].Outcomes["m30"].Equal(decimal.NewFromInt(103)))
	require.NotContains(t, got[0].Outcomes, "m10")
	require.NotContains(t, got[0].Outcomes, "m60")
}

func TestUpdatePatternOutcomesWindowBoundaries(t *testing.T) {
	j := openTestJournal(t)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordPattern(PatternRecord{Time: t0, Base: "IOTA", Quote: "ETH", Pattern: "Hammer", Price: decimal.NewFromInt(100)}))

	// 7m30s is the shared edge of m5 and m10; both windows are inclusive.
	n, err := j.UpdatePatternOutcomes("IOTA", "ETH", decimal.NewFromInt(102), t0.Add(7*time.Minute+30*time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Past the last window nothing is written.
	n, err = j.UpdatePatternOutcomes("IOTA", "ETH", decimal.NewFromInt(102), t0.Add(181*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte("p;"), keyUpperBound([]byte("p:")))
	require.Equal(t, []byte{0x01}, keyUpperBound([]byte{0x00, 0xff}))
	require.Nil(t, keyUpperBound([]byte{0xff}))
}
