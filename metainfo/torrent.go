// Package metainfo parses bencoded .torrent files into the Torrent struct
// the rest of the engine consumes.
package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"leech/bencode"
	"leech/utils"
)

// HashSize is the length in bytes of a SHA-1 digest, used both for the
// info_hash and for each per-piece hash.
const HashSize = 20

// File describes one file within a torrent's logical byte stream.
type File struct {
	RelPath string
	Length  int64
}

func (f *File) String() string {
	return fmt.Sprintf("%s (%s)", f.RelPath, utils.FormatBytes(f.Length))
}

// Torrent is the immutable metadata produced from a bencoded .torrent file.
type Torrent struct {
	AnnounceList []string
	Name         string
	UrlList      []string
	CreatedBy    string
	Comment      string
	CreatedAt    int64

	Files       []*File
	PieceLength int64
	PieceHashes [][HashSize]byte
	InfoHash    [HashSize]byte
	TotalLength int64
	IsPrivate   bool
}

func newTorrent() *Torrent {
	return &Torrent{
		AnnounceList: make([]string, 0),
		UrlList:      make([]string, 0),
		Files:        make([]*File, 0),
		PieceHashes:  make([][HashSize]byte, 0),
	}
}

func (t *Torrent) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Name: %s\n", t.Name)
	fmt.Fprintf(&sb, "  InfoHash: %s\n", t.InfoHashString())
	fmt.Fprintf(&sb, "  Length: %s\n", utils.FormatBytes(t.TotalLength))
	sb.WriteString("  AnnounceList:\n")
	for _, announce := range t.AnnounceList {
		fmt.Fprintf(&sb, "     %s\n", announce)
	}
	fmt.Fprintf(&sb, "  CreatedBy: %s\n", t.CreatedBy)
	fmt.Fprintf(&sb, "  Comment: %s\n", t.Comment)
	fmt.Fprintf(&sb, "  CreatedAt: %s\n", time.Unix(t.CreatedAt, 0).String())
	sb.WriteString("  Files:\n")
	for _, file := range t.Files {
		fmt.Fprintf(&sb, "     %s\n", file.String())
	}
	fmt.Fprintf(&sb, "  PieceLength: %s\n", utils.FormatBytes(t.PieceLength))
	return sb.String()
}

// InfoHashString returns the hex-encoded info_hash, as stored/displayed
// throughout the store and logs.
func (t *Torrent) InfoHashString() string {
	return hex.EncodeToString(t.InfoHash[:])
}

// PieceCount is the number of pieces described by PieceHashes.
func (t *Torrent) PieceCount() int {
	return len(t.PieceHashes)
}

// PieceSize returns the expected size of piece index, accounting for a
// shorter final piece.
func (t *Torrent) PieceSize(index int) int64 {
	if index == t.PieceCount()-1 {
		if rem := t.TotalLength % t.PieceLength; rem != 0 {
			return rem
		}
	}
	return t.PieceLength
}

// FromBencodeData converts decoded bencode into a Torrent. Returns nil if
// data is nil.
func FromBencodeData(data *bencode.Data) *Torrent {
	if data == nil {
		return nil
	}
	tor := newTorrent()
	root := data.AsDict()
	info := root["info"].AsDict()

	if announceList, ok := root["announce-list"]; ok {
		for _, tier := range announceList.AsList() {
			for _, announce := range tier.AsList() {
				tor.AnnounceList = append(tor.AnnounceList, announce.AsString())
			}
		}
	}
	if announce, ok := root["announce"]; ok {
		if !slices.Contains(tor.AnnounceList, announce.AsString()) {
			tor.AnnounceList = append(tor.AnnounceList, announce.AsString())
		}
	}

	if name, ok := info["name"]; ok {
		tor.Name = name.AsString()
	}

	if urlList, ok := root["url-list"]; ok {
		for _, url := range urlList.AsList() {
			tor.UrlList = append(tor.UrlList, url.AsString())
		}
	}

	if comment, ok := root["comment"]; ok {
		tor.Comment = comment.AsString()
	}
	if createdBy, ok := root["created by"]; ok {
		tor.CreatedBy = createdBy.AsString()
	}
	if createdAt, ok := root["creation date"]; ok {
		tor.CreatedAt = createdAt.AsInt()
	}

	if files, ok := info["files"]; ok {
		for _, fileData := range files.AsList() {
			fileDict := fileData.AsDict()
			file := &File{Length: fileDict["length"].AsInt()}
			if filePath, ok := fileDict["path"]; ok {
				parts := filePath.AsList()
				for i, part := range parts {
					file.RelPath += part.AsString()
					if i < len(parts)-1 {
						file.RelPath += "/"
					}
				}
			}
			tor.Files = append(tor.Files, file)
			tor.TotalLength += file.Length
		}
	} else {
		tor.TotalLength = info["length"].AsInt()
		tor.Files = append(tor.Files, &File{Length: tor.TotalLength, RelPath: tor.Name})
	}

	if pieceLength, ok := info["piece length"]; ok {
		tor.PieceLength = pieceLength.AsInt()
	}

	if pieces, ok := info["pieces"]; ok {
		raw := pieces.AsBytes()
		for i := 0; i+HashSize <= len(raw); i += HashSize {
			var h [HashSize]byte
			copy(h[:], raw[i:i+HashSize])
			tor.PieceHashes = append(tor.PieceHashes, h)
		}
	}

	if isPrivate, ok := info["private"]; ok {
		tor.IsPrivate = isPrivate.AsInt() == 1
	}

	hash := sha1.Sum(root["info"].ToBytes())
	tor.InfoHash = hash

	return tor
}

// FromBytes decodes a raw .torrent file's bytes into a Torrent.
func FromBytes(data []byte) (*Torrent, error) {
	decoded, _, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding torrent file: %w", err)
	}
	return FromBencodeData(decoded), nil
}
