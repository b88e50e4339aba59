package index

import (
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/errors"
)

// State is the lifecycle phase of an InvertedIndex.
type State int

const (
	StateWriting State = iota
	StateFinalized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateWriting:
		return "writing"
	case StateFinalized:
		return "finalized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InvertedIndex maps feature ids to postings over labelled row documents.
//
// While writing it accepts inserts from a single goroutine and holds no
// locks. Finalize freezes it; from then on it is read-only and may be shared
// by any number of goroutines, provided they start after Finalize returns.
type InvertedIndex struct {
	state     State
	outcomes  *OutcomeSet
	postings  map[int64]PostingList
	docFreq   map[int64]int
	docs      []Document
	totalLen  int64
	positives int
}

// Stats summarises the index contents.
type Stats struct {
	Docs      int     `json:"docs"`
	Features  int     `json:"features"`
	Postings  int     `json:"postings"`
	Positives int     `json:"positives"`
	AvgLength float64 `json:"avg_length"`
}

// Open starts a new index for writing. The outcome set must already hold
// every positive row, because each insert fixes its row's label.
func Open(outcomes *OutcomeSet) (*InvertedIndex, error) {
	if outcomes.Len() == 0 {
		return nil, apperrors.New(apperrors.ErrMissingOutcomes, "load the outcomes before the covariates")
	}
	return &InvertedIndex{
		state:    StateWriting,
		outcomes: outcomes,
		postings: make(map[int64]PostingList),
	}, nil
}

// Insert adds a row as the next document and returns its doc id. Doc ids are
// dense and follow insertion order.
func (x *InvertedIndex) Insert(v SparseVector) (int, error) {
	if x.state != StateWriting {
		return 0, apperrors.Newf(apperrors.ErrInvalidIndexState, "insert on %s index", x.state)
	}
	if err := Validate(v); err != nil {
		return 0, err
	}
	docID := len(x.docs)
	doc := Document{
		DocID: docID,
		RowID: v.RowID,
		Label: x.outcomes.Label(v.RowID),
		Terms: make(map[int64]int, len(v.Features)),
	}
	for _, f := range v.Features {
		doc.Terms[f.ID] = f.Count
		doc.Length += f.Count
		x.postings[f.ID] = append(x.postings[f.ID], Posting{DocID: docID, Frequency: f.Count})
	}
	x.docs = append(x.docs, doc)
	x.totalLen += int64(doc.Length)
	x.positives += doc.Label
	return docID, nil
}

// Finalize freezes the postings and computes document frequencies. The
// outcome set is released; labels already live on the documents.
func (x *InvertedIndex) Finalize() error {
	if x.state != StateWriting {
		return apperrors.Newf(apperrors.ErrInvalidIndexState, "finalize on %s index", x.state)
	}
	x.docFreq = make(map[int64]int, len(x.postings))
	for featureID, postings := range x.postings {
		sort.SliceStable(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		x.postings[featureID] = postings[:len(postings):len(postings)]
		x.docFreq[featureID] = len(postings)
	}
	x.outcomes = nil
	x.state = StateFinalized
	return nil
}

// Close drops the index contents. Every later call fails with
// ErrInvalidIndexState.
func (x *InvertedIndex) Close() error {
	if x.state == StateClosed {
		return apperrors.New(apperrors.ErrInvalidIndexState, "index already closed")
	}
	x.state = StateClosed
	x.postings = nil
	x.docFreq = nil
	x.docs = nil
	x.outcomes = nil
	return nil
}

func (x *InvertedIndex) State() State {
	return x.state
}

// CheckReadable returns ErrInvalidIndexState unless the index is finalized.
// The read accessors below assume it has passed.
func (x *InvertedIndex) CheckReadable() error {
	if x.state != StateFinalized {
		return apperrors.Newf(apperrors.ErrInvalidIndexState, "read on %s index", x.state)
	}
	return nil
}

// DocCount returns N, the number of documents.
func (x *InvertedIndex) DocCount() int {
	return len(x.docs)
}

// DocFreq returns how many documents contain the feature.
func (x *InvertedIndex) DocFreq(featureID int64) int {
	return x.docFreq[featureID]
}

// Postings returns the feature's postings in ascending doc id order. The
// slice is shared and must not be modified.
func (x *InvertedIndex) Postings(featureID int64) PostingList {
	return x.postings[featureID]
}

func (x *InvertedIndex) Document(docID int) (Document, bool) {
	if docID < 0 || docID >= len(x.docs) {
		return Document{}, false
	}
	return x.docs[docID], true
}

func (x *InvertedIndex) Stats() Stats {
	s := Stats{
		Docs:      len(x.docs),
		Features:  len(x.postings),
		Positives: x.positives,
	}
	for _, postings := range x.postings {
		s.Postings += len(postings)
	}
	if s.Docs > 0 {
		s.AvgLength = float64(x.totalLen) / float64(s.Docs)
	}
	return s
}

// Snapshot returns the documents and the per-feature postings sorted by
// feature id.
func (x *InvertedIndex) Snapshot() ([]Document, []TermEntry, error) {
	if err := x.CheckReadable(); err != nil {
		return nil, nil, err
	}
	entries := make([]TermEntry, 0, len(x.postings))
	for featureID, postings := range x.postings {
		entries = append(entries, TermEntry{FeatureID: featureID, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FeatureID < entries[j].FeatureID
	})
	return x.docs, entries, nil
}

// Restore rebuilds a finalized index from persisted documents and postings.
// Only DocID, RowID and Label are read from docs; term vectors and lengths
// are recomputed from the postings, which must be in strictly ascending doc
// id order.
func Restore(docs []Document, entries []TermEntry) (*InvertedIndex, error) {
	x := &InvertedIndex{
		state:    StateWriting,
		postings: make(map[int64]PostingList, len(entries)),
		docs:     make([]Document, len(docs)),
	}
	for i, d := range docs {
		if d.DocID != i {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "document %d stored at position %d", d.DocID, i)
		}
		if d.Label != 0 && d.Label != 1 {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "document %d has label %d", d.DocID, d.Label)
		}
		x.docs[i] = Document{DocID: i, RowID: d.RowID, Label: d.Label, Terms: make(map[int64]int)}
		x.positives += d.Label
	}
	for _, entry := range entries {
		if _, dup := x.postings[entry.FeatureID]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "feature %d stored twice", entry.FeatureID)
		}
		for i, p := range entry.Postings {
			if p.DocID < 0 || p.DocID >= len(x.docs) {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, "feature %d references unknown document %d", entry.FeatureID, p.DocID)
			}
			if i > 0 && p.DocID <= entry.Postings[i-1].DocID {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, "feature %d postings not strictly ordered at document %d", entry.FeatureID, p.DocID)
			}
			if p.Frequency < 1 {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, "feature %d has frequency %d in document %d", entry.FeatureID, p.Frequency, p.DocID)
			}
			doc := &x.docs[p.DocID]
			doc.Terms[entry.FeatureID] = p.Frequency
			doc.Length += p.Frequency
			x.totalLen += int64(p.Frequency)
		}
		x.postings[entry.FeatureID] = entry.Postings
	}
	if err := x.Finalize(); err != nil {
		return nil, err
	}
	return x, nil
}

// Validate checks that features are strictly ordered by id and every count is
// at least 1.
func Validate(v SparseVector) error {
	for i, f := range v.Features {
		if f.Count < 1 {
			return apperrors.Newf(apperrors.ErrInvalidInput, "row %d feature %d has count %d", v.RowID, f.ID, f.Count)
		}
		if i > 0 && f.ID <= v.Features[i-1].ID {
			return apperrors.Newf(apperrors.ErrInvalidInput, "row %d features not strictly ordered at feature %d", v.RowID, f.ID)
		}
	}
	return nil
}
