package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
)

// MagicBytes identifies a valid .knnx segment file.
const (
	MagicBytes    uint32 = 0x4B4E4E58
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
	FileName             = "index.knnx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic        uint32
	Version      uint32
	FeatureCount uint32
	DocCount     uint32
	DictOffset   int64
	DictSize     int64
	PostOffset   int64
	PostSize     int64
	DocsOffset   int64
	DocsSize     int64
}

// DictEntry maps a feature to its postings offset, length, and document
// frequency in the segment file.
type DictEntry struct {
	FeatureID  int64 `json:"t"`
	PostOffset int64 `json:"o"`
	PostLen    int   `json:"l"`
	DocFreq    int   `json:"d"`
}

// DocEntry is the stored part of a document; its doc id is its position.
type DocEntry struct {
	RowID int64 `json:"r"`
	Label int   `json:"l"`
}

// Writer serialises a finalized index into a segment file.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Path returns where Write puts the segment.
func (w *Writer) Path() string {
	return filepath.Join(w.dataDir, FileName)
}

// Write atomically replaces the segment in the data directory with the
// contents of idx. It writes to a .tmp file first and renames on success;
// on failure the .tmp file is removed.
func (w *Writer) Write(idx *index.InvertedIndex) (name string, err error) {
	docs, entries, err := idx.Snapshot()
	if err != nil {
		return "", fmt.Errorf("snapshotting index: %w", err)
	}
	finalPath := w.Path()
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	header := SegmentHeader{
		Magic:        MagicBytes,
		Version:      FormatVersion,
		FeatureCount: uint32(len(entries)),
		DocCount:     uint32(len(docs)),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header placeholder: %w", err)
	}

	header.PostOffset = int64(HeaderSize)
	dict := make([]DictEntry, 0, len(entries))
	var written int64
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for feature %d: %w", entry.FeatureID, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return "", fmt.Errorf("writing postings for feature %d: %w", entry.FeatureID, err)
		}
		dict = append(dict, DictEntry{
			FeatureID:  entry.FeatureID,
			PostOffset: written,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		written += int64(len(postingsData))
	}
	header.PostSize = written

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	header.DictOffset = header.PostOffset + header.PostSize
	header.DictSize = int64(len(dictData))
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}

	stored := make([]DocEntry, len(docs))
	for i, d := range docs {
		stored[i] = DocEntry{RowID: d.RowID, Label: d.Label}
	}
	docsData, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("marshaling documents: %w", err)
	}
	header.DocsOffset = header.DictOffset + header.DictSize
	header.DocsSize = int64(len(docsData))
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing documents: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(docsData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(time.Now().Unix()))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return FileName, nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.FeatureCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		FeatureCount: binary.LittleEndian.Uint32(b[8:12]),
		DocCount:     binary.LittleEndian.Uint32(b[12:16]),
		DictOffset:   int64(binary.LittleEndian.Uint64(b[16:24])),
		DictSize:     int64(binary.LittleEndian.Uint64(b[24:32])),
		PostOffset:   int64(binary.LittleEndian.Uint64(b[32:40])),
		PostSize:     int64(binary.LittleEndian.Uint64(b[40:48])),
		DocsOffset:   int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsSize:     int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}
