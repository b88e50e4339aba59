// Package ranker scores indexed rows against a query row the way a lexical
// search engine scores documents: each shared feature contributes its
// square-root-damped frequencies weighted by the squared inverse document
// frequency. Scores are not length-normalised.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
)

// Candidate is a document sharing at least one feature with the query.
type Candidate struct {
	DocID int     `json:"doc_id"`
	Score float64 `json:"score"`
}

// IDF returns ln(N/(df+1)) + 1.
func IDF(totalDocs int, docFreq int) float64 {
	return math.Log(float64(totalDocs)/float64(docFreq+1)) + 1
}

// Score returns every document that shares a feature with the query, in
// ascending doc id order. Features absent from the index are skipped.
// Contributions are summed in query feature order, so a given query always
// produces bit-identical scores.
func Score(idx *index.InvertedIndex, query index.SparseVector) ([]Candidate, error) {
	if err := idx.CheckReadable(); err != nil {
		return nil, err
	}
	if err := index.Validate(query); err != nil {
		return nil, err
	}
	totalDocs := idx.DocCount()
	scores := make(map[int]float64)
	for _, f := range query.Features {
		docFreq := idx.DocFreq(f.ID)
		if docFreq == 0 {
			continue
		}
		weight := featureWeight(totalDocs, docFreq, f.Count)
		for _, posting := range idx.Postings(f.ID) {
			scores[posting.DocID] += contribution(posting.Frequency, weight)
		}
	}
	result := make([]Candidate, 0, len(scores))
	for docID, score := range scores {
		result = append(result, Candidate{DocID: docID, Score: score})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result, nil
}

// ScoreDocument scores a single document. ok is false when the document
// shares no feature with the query and so is not a candidate.
func ScoreDocument(idx *index.InvertedIndex, query index.SparseVector, docID int) (score float64, ok bool, err error) {
	if err := idx.CheckReadable(); err != nil {
		return 0, false, err
	}
	if err := index.Validate(query); err != nil {
		return 0, false, err
	}
	doc, found := idx.Document(docID)
	if !found {
		return 0, false, nil
	}
	totalDocs := idx.DocCount()
	for _, f := range query.Features {
		termFreq, shared := doc.Terms[f.ID]
		if !shared {
			continue
		}
		weight := featureWeight(totalDocs, idx.DocFreq(f.ID), f.Count)
		score += contribution(termFreq, weight)
		ok = true
	}
	return score, ok, nil
}

func featureWeight(totalDocs, docFreq, queryFreq int) float64 {
	idf := IDF(totalDocs, docFreq)
	return idf * idf * math.Sqrt(float64(queryFreq))
}

func contribution(termFreq int, weight float64) float64 {
	return math.Sqrt(float64(termFreq)) * weight
}
