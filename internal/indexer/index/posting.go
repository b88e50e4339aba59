package index

// Feature is one covariate of a row: a feature id and how many times it
// occurs.
type Feature struct {
	ID    int64 `json:"id"`
	Count int   `json:"count"`
}

// SparseVector is a row's covariates ordered by feature id, each id at most
// once, every count at least 1.
type SparseVector struct {
	RowID    int64     `json:"row_id"`
	Features []Feature `json:"features"`
}

// Posting records that a document contains a feature Frequency times.
type Posting struct {
	DocID     int `json:"d"`
	Frequency int `json:"f"`
}

type PostingList []Posting

// TermEntry is one feature's frozen postings, used when snapshotting the
// index for persistence.
type TermEntry struct {
	FeatureID int64       `json:"feature_id"`
	Postings  PostingList `json:"postings"`
}

// Document is the indexed form of a row. It is owned by the index and never
// mutated after insert.
type Document struct {
	DocID  int           `json:"doc_id"`
	RowID  int64         `json:"row_id"`
	Label  int           `json:"label"`
	Terms  map[int64]int `json:"terms"`
	Length int           `json:"length"`
}
