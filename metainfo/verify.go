package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrPieceCorrupted is returned by VerifyTorrent when a piece on disk does
// not match its expected hash.
var ErrPieceCorrupted = errors.New("piece is corrupted")

// VerifyTorrent checks that the files described by filename exist under
// contentPath and that every piece hashes to the value recorded in the
// torrent. It treats the file list as one continuous byte stream, exactly
// as piece boundaries are defined during a download.
func VerifyTorrent(filename string, contentPath string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	tor, err := FromBytes(content)
	if err != nil {
		return err
	}

	for _, file := range tor.Files {
		if _, err := os.Stat(filepath.Join(contentPath, file.RelPath)); err != nil {
			return err
		}
	}

	pieceIndex := 0
	carry := make([]byte, 0, tor.PieceLength)
	pieceBuf := make([]byte, tor.PieceLength)

	for fileIdx, file := range tor.Files {
		if err := verifyFile(tor, file, fileIdx, contentPath, &pieceIndex, &carry, pieceBuf); err != nil {
			return err
		}
		if pieceIndex == tor.PieceCount() {
			break
		}
	}
	return nil
}

func verifyFile(tor *Torrent, file *File, fileIdx int, contentPath string, pieceIndex *int, carry *[]byte, pieceBuf []byte) error {
	f, err := os.Open(filepath.Join(contentPath, file.RelPath))
	if err != nil {
		return err
	}
	defer f.Close()

	isLastFile := fileIdx == len(tor.Files)-1
	for {
		n, err := f.Read(pieceBuf)
		if n == 0 {
			if err == io.EOF || err == nil {
				break
			}
			return err
		}

		chunk := append(*carry, pieceBuf[:n]...)
		*carry = (*carry)[:0]

		for int64(len(chunk)) >= tor.PieceLength {
			if err := checkPiece(tor, *pieceIndex, chunk[:tor.PieceLength]); err != nil {
				return err
			}
			chunk = chunk[tor.PieceLength:]
			*pieceIndex++
			if *pieceIndex == tor.PieceCount() {
				return nil
			}
		}

		if len(chunk) > 0 {
			if isLastFile && len(chunk) == int(tor.PieceSize(*pieceIndex)) {
				if err := checkPiece(tor, *pieceIndex, chunk); err != nil {
					return err
				}
				*pieceIndex++
				chunk = nil
			}
		}
		*carry = append(*carry, chunk...)

		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func checkPiece(tor *Torrent, index int, data []byte) error {
	hash := sha1.Sum(data)
	if hash != tor.PieceHashes[index] {
		return fmt.Errorf("%w: piece %d", ErrPieceCorrupted, index)
	}
	return nil
}
