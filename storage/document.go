package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"lyricsplus-api-go/lyrics"
)

// DecodeDocument parses a stored lyric payload according to the file's
// name extension, with the MIME type as fallback. TTML and LRC bodies
// go through their parsers; everything else must be the canonical JSON
// document form.
func DecodeDocument(info *FileInfo, data []byte) (*lyrics.Document, error) {
	ext := strings.ToLower(path.Ext(info.Name))
	switch {
	case ext == ".ttml" || info.MimeType == "application/ttml+xml":
		doc := lyrics.ParseTTML(string(data), 0, false)
		if doc == nil || doc.Empty() {
			return nil, fmt.Errorf("stored TTML %s has no usable lines", info.Name)
		}
		return doc, nil

	case ext == ".lrc" || strings.HasPrefix(info.MimeType, "text/"):
		ref := ParseName(info.Name)
		doc := lyrics.ParseLRC(string(data), int(ref.Duration*1000))
		if doc == nil || doc.Empty() {
			return nil, fmt.Errorf("stored LRC %s has no usable lines", info.Name)
		}
		return doc, nil

	default:
		var doc lyrics.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("stored document %s is not valid JSON: %w", info.Name, err)
		}
		if doc.Empty() {
			return nil, fmt.Errorf("stored document %s has no lyric lines", info.Name)
		}
		return &doc, nil
	}
}
