package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
)

type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     []DocEntry
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DocsOffset+header.DocsSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		f.Close()
		return nil, fmt.Errorf("dictionary checksum mismatch in %s", path)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	docsBytes := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBytes, header.DocsOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	if crc32.ChecksumIEEE(docsBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		f.Close()
		return nil, fmt.Errorf("documents checksum mismatch in %s", path)
	}
	var docs []DocEntry
	if err := json.Unmarshal(docsBytes, &docs); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing documents: %w", err)
	}
	if len(dict) != int(header.FeatureCount) || len(docs) != int(header.DocCount) {
		f.Close()
		return nil, fmt.Errorf("segment counts disagree with header: %d features, %d docs", len(dict), len(docs))
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docs:     docs,
	}, nil
}

// Load reads every postings list and rebuilds a finalized index.
func (r *Reader) Load() (*index.InvertedIndex, error) {
	entries := make([]index.TermEntry, 0, len(r.dict))
	for _, entry := range r.dict {
		postings, err := r.readPostings(entry)
		if err != nil {
			return nil, err
		}
		if len(postings) != entry.DocFreq {
			return nil, fmt.Errorf("feature %d: %d postings, dictionary says %d", entry.FeatureID, len(postings), entry.DocFreq)
		}
		entries = append(entries, index.TermEntry{FeatureID: entry.FeatureID, Postings: postings})
	}
	docs := make([]index.Document, len(r.docs))
	for i, d := range r.docs {
		docs[i] = index.Document{DocID: i, RowID: d.RowID, Label: d.Label}
	}
	idx, err := index.Restore(docs, entries)
	if err != nil {
		return nil, fmt.Errorf("restoring index from %s: %w", r.filePath, err)
	}
	return idx, nil
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for feature %d: %w", entry.FeatureID, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings for feature %d: %w", entry.FeatureID, err)
	}
	return postings, nil
}

func (r *Reader) Features() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Load opens the segment at path, reads it into a finalized index and
// closes the file.
func Load(path string) (*index.InvertedIndex, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Load()
}
