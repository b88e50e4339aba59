package executor

import (
	"context"
	"math/rand"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
)

// syntheticIndex builds rows with a skewed feature distribution so that a
// few features are common and most are rare.
func syntheticIndex(b *testing.B, rows, features, perRow int) *index.InvertedIndex {
	b.Helper()
	rng := rand.New(rand.NewSource(42))
	outcomes := index.NewOutcomeSet()
	for r := 0; r < rows; r += 10 {
		outcomes.Add(int64(r))
	}
	idx, err := index.Open(outcomes)
	if err != nil {
		b.Fatal(err)
	}
	for r := 0; r < rows; r++ {
		if _, err := idx.Insert(syntheticRow(rng, int64(r), features, perRow)); err != nil {
			b.Fatal(err)
		}
	}
	if err := idx.Finalize(); err != nil {
		b.Fatal(err)
	}
	return idx
}

func syntheticRow(rng *rand.Rand, rowID int64, features, perRow int) index.SparseVector {
	seen := make(map[int64]bool, perRow)
	for len(seen) < perRow {
		f := int64(rng.ExpFloat64() * float64(features) / 8)
		if f < int64(features) {
			seen[f] = true
		}
	}
	v := index.SparseVector{RowID: rowID}
	for f := int64(0); f < int64(features); f++ {
		if seen[f] {
			v.Features = append(v.Features, index.Feature{ID: f, Count: 1 + rng.Intn(3)})
		}
	}
	return v
}

// BenchmarkPredict measures one score, select and vote pass over 20 000 rows.
func BenchmarkPredict(b *testing.B) {
	idx := syntheticIndex(b, 20000, 2000, 20)
	exec, err := New(idx, Options{K: 100, Weighted: true})
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(7))
	queries := make([]index.SparseVector, 64)
	for i := range queries {
		queries[i] = syntheticRow(rng, int64(i), 2000, 20)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.Predict(context.Background(), queries[i%len(queries)]); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPredictParallel measures concurrent read throughput on the shared
// index.
func BenchmarkPredictParallel(b *testing.B) {
	idx := syntheticIndex(b, 20000, 2000, 20)
	exec, err := New(idx, Options{K: 100, Weighted: true})
	if err != nil {
		b.Fatal(err)
	}
	query := syntheticRow(rand.New(rand.NewSource(7)), 1, 2000, 20)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := exec.Predict(context.Background(), query); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
