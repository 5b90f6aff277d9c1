// Package storage maps piece-relative writes onto a torrent's multi-file
// layout on disk.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"leech/metainfo"
)

// fileHandle pairs an open file with its logical byte range's start offset
// within the torrent's concatenated file stream.
type fileHandle struct {
	f           *os.File
	startOffset int64
	length      int64
}

// Mapper owns one open, truncated file handle per torrent file and routes
// piece writes across file boundaries.
type Mapper struct {
	pieceLength int64
	files       []*fileHandle
}

// New creates (truncating) every file under root described by files,
// building parent directories as needed. Callers must Close the returned
// Mapper when done.
func New(root string, pieceLength int64, files []*metainfo.File) (*Mapper, error) {
	m := &Mapper{pieceLength: pieceLength}
	var offset int64
	for _, file := range files {
		path := filepath.Join(root, file.RelPath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			m.Close()
			return nil, fmt.Errorf("creating directory for %s: %w", file.RelPath, err)
		}
		f, err := os.Create(path)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("creating file %s: %w", file.RelPath, err)
		}
		if err := f.Truncate(file.Length); err != nil {
			f.Close()
			m.Close()
			return nil, fmt.Errorf("truncating file %s: %w", file.RelPath, err)
		}
		m.files = append(m.files, &fileHandle{f: f, startOffset: offset, length: file.Length})
		offset += file.Length
	}
	return m, nil
}

// Write places data at logical offset pieceIndex*pieceLength+offsetInPiece,
// splitting the write across every file whose range it overlaps. It
// returns only once every intersecting slice has been written. A failure
// partway through does not roll back slices already written — the piece
// will simply fail its hash check on the next verification pass.
func (m *Mapper) Write(pieceIndex int, offsetInPiece int64, data []byte) error {
	start := int64(pieceIndex)*m.pieceLength + offsetInPiece
	end := start + int64(len(data))

	for _, fh := range m.files {
		fileStart := fh.startOffset
		fileEnd := fh.startOffset + fh.length
		if start >= fileEnd || end <= fileStart {
			continue
		}

		overlapStart := start
		if overlapStart < fileStart {
			overlapStart = fileStart
		}
		overlapEnd := end
		if overlapEnd > fileEnd {
			overlapEnd = fileEnd
		}

		sliceStart := overlapStart - start
		sliceEnd := overlapEnd - start
		if _, err := fh.f.WriteAt(data[sliceStart:sliceEnd], overlapStart-fileStart); err != nil {
			return fmt.Errorf("writing piece %d at file offset %d: %w", pieceIndex, overlapStart-fileStart, err)
		}
	}
	return nil
}

// Close closes every open file handle, collecting the first error
// encountered (if any) but attempting to close all handles regardless.
func (m *Mapper) Close() error {
	var firstErr error
	for _, fh := range m.files {
		if fh.f == nil {
			continue
		}
		if err := fh.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
