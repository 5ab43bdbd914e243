package book

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/depthstream/internal/schema"
)

func d(price, size string) schema.Delta {
	return schema.Delta{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func requireLevels(t *testing.T, got []schema.PriceLevel, want ...[3]string) {
	t.Helper()
	require.Len(t, got, len(want))
	for i, w := range want {
		require.Equal(t, w[0], got[i].Price.String(), "price at %d", i)
		require.Equal(t, w[1], got[i].Size.String(), "size at %d", i)
		require.Equal(t, w[2], got[i].CumulativeSize.String(), "cumulative at %d", i)
	}
}

func TestMergeSortsBidsDescending(t *testing.T) {
	bids := Merge(schema.SideBid, 15, nil, []schema.Delta{d("99", "3"), d("100", "2"), d("98.5", "1")})
	requireLevels(t, bids, [3]string{"100", "2", "2"}, [3]string{"99", "3", "5"}, [3]string{"98.5", "1", "6"})
}

func TestMergeSortsAsksAscending(t *testing.T) {
	asks := Merge(schema.SideAsk, 15, nil, []schema.Delta{d("102", "1"), d("101", "4")})
	requireLevels(t, asks, [3]string{"101", "4", "4"}, [3]string{"102", "1", "5"})
}

func TestMergeUpsertsAndRemoves(t *testing.T) {
	bids := Merge(schema.SideBid, 15, nil, []schema.Delta{d("100", "2"), d("99", "3")})
	bids = Merge(schema.SideBid, 15, bids, []schema.Delta{d("99", "7")})
	requireLevels(t, bids, [3]string{"100", "2", "2"}, [3]string{"99", "7", "9"})

	bids = Merge(schema.SideBid, 15, bids, []schema.Delta{d("100", "0")})
	requireLevels(t, bids, [3]string{"99", "7", "7"})
}

func TestMergeRemovingAbsentPriceIsNoop(t *testing.T) {
	bids := Merge(schema.SideBid, 15, nil, []schema.Delta{d("100", "2")})
	after := Merge(schema.SideBid, 15, bids, []schema.Delta{d("50", "0")})
	requireLevels(t, after, [3]string{"100", "2", "2"})
}

func TestMergeTreatsEquivalentPricesAsOneLevel(t *testing.T) {
	asks := Merge(schema.SideAsk, 15, nil, []schema.Delta{d("101.0", "1")})
	asks = Merge(schema.SideAsk, 15, asks, []schema.Delta{d("101", "0")})
	require.Empty(t, asks)
}

func TestMergeEmptyDeltasReturnsSameLadder(t *testing.T) {
	bids := Merge(schema.SideBid, 15, nil, []schema.Delta{d("100", "2")})
	same := Merge(schema.SideBid, 15, bids, nil)
	require.Same(t, &bids[0], &same[0])
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	bids := Merge(schema.SideBid, 15, nil, []schema.Delta{d("100", "2"), d("99", "3")})
	_ = Merge(schema.SideBid, 15, bids, []schema.Delta{d("100", "0"), d("101", "1")})
	requireLevels(t, bids, [3]string{"100", "2", "2"}, [3]string{"99", "3", "5"})
}

func TestMergeTruncatesWorstPrices(t *testing.T) {
	asks := Merge(schema.SideAsk, 2, nil, []schema.Delta{d("103", "1"), d("101", "1"), d("102", "1")})
	requireLevels(t, asks, [3]string{"101", "1", "1"}, [3]string{"102", "1", "2"})

	// A better price displaces the worst kept level, never a better one.
	asks = Merge(schema.SideAsk, 2, asks, []schema.Delta{d("100", "5")})
	requireLevels(t, asks, [3]string{"100", "5", "5"}, [3]string{"101", "1", "6"})
}

func TestMergeNegativeSizeRemoves(t *testing.T) {
	bids := Merge(schema.SideBid, 15, nil, []schema.Delta{d("100", "2")})
	bids = Merge(schema.SideBid, 15, bids, []schema.Delta{d("100", "-1")})
	require.Empty(t, bids)
}

func TestMergeRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const depth = 15
	for _, side := range []schema.Side{schema.SideBid, schema.SideAsk} {
		var ladder []schema.PriceLevel
		for round := 0; round < 500; round++ {
			deltas := make([]schema.Delta, rng.Intn(8))
			for i := range deltas {
				price := decimal.NewFromInt(int64(90 + rng.Intn(40))).Div(decimal.NewFromInt(int64(1 + rng.Intn(2))))
				size := decimal.NewFromInt(int64(rng.Intn(4)))
				deltas[i] = schema.Delta{Price: price, Size: size}
			}
			ladder = Merge(side, depth, ladder, deltas)

			require.LessOrEqual(t, len(ladder), depth)
			total := decimal.Zero
			for i, level := range ladder {
				require.True(t, level.Size.IsPositive(), "level sizes stay positive")
				total = total.Add(level.Size)
				require.True(t, total.Equal(level.CumulativeSize), "cumulative equals running sum")
				if i > 0 {
					require.True(t, side.Better(ladder[i-1].Price, level.Price), "strictly ordered %s ladder", side)
					require.True(t, level.CumulativeSize.GreaterThanOrEqual(ladder[i-1].CumulativeSize))
				}
			}
		}
	}
}
