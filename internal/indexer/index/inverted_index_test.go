package index

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
)

func vec(rowID int64, pairs ...int64) SparseVector {
	v := SparseVector{RowID: rowID}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Features = append(v.Features, Feature{ID: pairs[i], Count: int(pairs[i+1])})
	}
	return v
}

func buildIndex(t *testing.T, positives []int64, rows ...SparseVector) *InvertedIndex {
	t.Helper()
	outcomes := NewOutcomeSet()
	outcomes.Add(positives...)
	idx, err := Open(outcomes)
	require.NoError(t, err)
	for _, r := range rows {
		_, err := idx.Insert(r)
		require.NoError(t, err)
	}
	require.NoError(t, idx.Finalize())
	return idx
}

func TestOpenRequiresOutcomes(t *testing.T) {
	_, err := Open(nil)
	assert.True(t, errors.Is(err, apperrors.ErrMissingOutcomes))

	_, err = Open(NewOutcomeSet())
	assert.True(t, errors.Is(err, apperrors.ErrMissingOutcomes))
}

func TestInsertAssignsDenseDocIDsAndLabels(t *testing.T) {
	outcomes := NewOutcomeSet()
	outcomes.Add(7)
	idx, err := Open(outcomes)
	require.NoError(t, err)

	id0, err := idx.Insert(vec(5, 10, 2, 11, 1))
	require.NoError(t, err)
	id1, err := idx.Insert(vec(7, 10, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, id0)
	assert.Equal(t, 1, id1)

	// outcomes loaded after an insert do not relabel it
	outcomes.Add(5)
	require.NoError(t, idx.Finalize())

	d0, ok := idx.Document(0)
	require.True(t, ok)
	assert.Equal(t, int64(5), d0.RowID)
	assert.Equal(t, 0, d0.Label)
	assert.Equal(t, 3, d0.Length)
	assert.Equal(t, map[int64]int{10: 2, 11: 1}, d0.Terms)

	d1, _ := idx.Document(1)
	assert.Equal(t, 1, d1.Label)

	assert.Equal(t, 2, idx.DocCount())
	assert.Equal(t, 2, idx.DocFreq(10))
	assert.Equal(t, 1, idx.DocFreq(11))
	assert.Equal(t, 0, idx.DocFreq(99))
	assert.Equal(t, PostingList{{DocID: 0, Frequency: 2}, {DocID: 1, Frequency: 1}}, idx.Postings(10))

	stats := idx.Stats()
	assert.Equal(t, Stats{Docs: 2, Features: 2, Postings: 3, Positives: 1, AvgLength: 2}, stats)
}

func TestLifecycleErrors(t *testing.T) {
	outcomes := NewOutcomeSet()
	outcomes.Add(1)
	idx, err := Open(outcomes)
	require.NoError(t, err)

	assert.True(t, errors.Is(idx.CheckReadable(), apperrors.ErrInvalidIndexState))
	_, _, err = idx.Snapshot()
	assert.True(t, errors.Is(err, apperrors.ErrInvalidIndexState))

	require.NoError(t, idx.Finalize())
	assert.Equal(t, StateFinalized, idx.State())
	assert.NoError(t, idx.CheckReadable())

	_, err = idx.Insert(vec(2, 1, 1))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidIndexState))
	assert.True(t, errors.Is(idx.Finalize(), apperrors.ErrInvalidIndexState))

	require.NoError(t, idx.Close())
	assert.True(t, errors.Is(idx.CheckReadable(), apperrors.ErrInvalidIndexState))
	assert.True(t, errors.Is(idx.Close(), apperrors.ErrInvalidIndexState))
}

func TestInsertRejectsMalformedVectors(t *testing.T) {
	outcomes := NewOutcomeSet()
	outcomes.Add(1)
	idx, err := Open(outcomes)
	require.NoError(t, err)

	_, err = idx.Insert(vec(1, 10, 0))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	_, err = idx.Insert(vec(1, 11, 1, 10, 1))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	_, err = idx.Insert(vec(1, 10, 1, 10, 1))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, 0, idx.DocCount())
}

func TestEmptyRowIsIndexedWithoutPostings(t *testing.T) {
	idx := buildIndex(t, []int64{1}, vec(1), vec(2, 10, 1))
	assert.Equal(t, 2, idx.DocCount())
	d, _ := idx.Document(0)
	assert.Equal(t, 0, d.Length)
	assert.Equal(t, 1, idx.DocFreq(10))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	idx := buildIndex(t, []int64{1},
		vec(1, 10, 1, 11, 1, 12, 1),
		vec(2, 10, 1, 11, 3),
		vec(3, 12, 1),
	)
	docs, entries, err := idx.Snapshot()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(10), entries[0].FeatureID)
	assert.Equal(t, int64(12), entries[2].FeatureID)

	stripped := make([]Document, len(docs))
	for i, d := range docs {
		stripped[i] = Document{DocID: d.DocID, RowID: d.RowID, Label: d.Label}
	}
	restored, err := Restore(stripped, entries)
	require.NoError(t, err)

	assert.Equal(t, idx.Stats(), restored.Stats())
	for i := 0; i < idx.DocCount(); i++ {
		want, _ := idx.Document(i)
		got, _ := restored.Document(i)
		assert.Equal(t, want, got)
	}
}

func TestRestoreRejectsCorruptInput(t *testing.T) {
	_, err := Restore([]Document{{DocID: 1}}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = Restore([]Document{{DocID: 0}}, []TermEntry{{FeatureID: 1, Postings: PostingList{{DocID: 3, Frequency: 1}}}})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = Restore([]Document{{DocID: 0, Label: 2}}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestRestoreRejectsRepeatedDocInPostings(t *testing.T) {
	docs := []Document{{DocID: 0, RowID: 5}, {DocID: 1, RowID: 6}}

	_, err := Restore(docs, []TermEntry{{FeatureID: 1, Postings: PostingList{
		{DocID: 0, Frequency: 2},
		{DocID: 0, Frequency: 2},
	}}})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = Restore(docs, []TermEntry{{FeatureID: 1, Postings: PostingList{
		{DocID: 1, Frequency: 1},
		{DocID: 0, Frequency: 1},
	}}})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	restored, err := Restore(docs, []TermEntry{{FeatureID: 1, Postings: PostingList{
		{DocID: 0, Frequency: 2},
		{DocID: 1, Frequency: 1},
	}}})
	require.NoError(t, err)
	doc, ok := restored.Document(0)
	require.True(t, ok)
	assert.Equal(t, 2, doc.Length)
	assert.InDelta(t, 1.5, restored.Stats().AvgLength, 1e-12)
}

func TestOutcomeSet(t *testing.T) {
	o := NewOutcomeSet()
	o.Add(3, 3, -4)
	assert.Equal(t, 2, o.Len())
	assert.True(t, o.Contains(-4))
	assert.Equal(t, 1, o.Label(3))
	assert.Equal(t, 0, o.Label(4))

	var nilSet *OutcomeSet
	assert.Equal(t, 0, nilSet.Len())
}
