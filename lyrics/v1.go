package lyrics

import "strings"

// v1 is the flat wire format: every syllable (or full line, for Line
// sync) is a top-level segment carrying an isLineEnding marker instead
// of nested grouping. Word sync is spelled "syllable" on the v1 wire.

const v1WordType = "syllable"

// FlatElement mirrors Element but may additionally flag a background
// vocal segment, since v1 has no per-syllable background field.
type FlatElement struct {
	Key          string `json:"key"`
	SongPart     string `json:"songPart"`
	Singer       string `json:"singer"`
	IsBackground bool   `json:"isBackground,omitempty"`
}

// FlatSegment is one v1 record.
type FlatSegment struct {
	Time         int         `json:"time"`
	Duration     int         `json:"duration"`
	Text         string      `json:"text"`
	IsLineEnding int         `json:"isLineEnding"`
	Element      FlatElement `json:"element"`
}

// FlatDocument is the v1 counterpart of Document.
type FlatDocument struct {
	Type     string        `json:"type"`
	Tools    string        `json:"tools,omitempty"`
	Metadata Metadata      `json:"metadata"`
	Segments []FlatSegment `json:"lyrics"`
	Cached   CacheState    `json:"cached"`
}

// V1ToV2 groups a flat v1 document into the canonical grouped form.
// Line-synced input passes through segment by segment; Word-synced
// input accumulates syllables until a line-ending marker, deriving the
// line's timing from the syllable min/max. A trailing unterminated
// group is kept with its text trimmed.
func V1ToV2(flat *FlatDocument) *Document {
	if flat == nil {
		return nil
	}

	doc := &Document{
		Tools:    flat.Tools,
		Metadata: flat.Metadata,
		Cached:   flat.Cached,
	}
	if doc.Cached == "" {
		doc.Cached = CachedNone
	}

	if flat.Type != v1WordType && SyncType(flat.Type) != SyncWord {
		doc.Type = SyncType(flat.Type)
		for _, seg := range flat.Segments {
			doc.Lines = append(doc.Lines, Line{
				Time:      seg.Time,
				Duration:  seg.Duration,
				Text:      seg.Text,
				Syllables: []Syllable{},
				Element:   Element{Key: seg.Element.Key, SongPart: seg.Element.SongPart, Singer: seg.Element.Singer},
			})
		}
		return doc
	}

	doc.Type = SyncWord
	var current *Line
	for _, seg := range flat.Segments {
		if current == nil {
			current = &Line{
				Element: Element{Key: seg.Element.Key, SongPart: seg.Element.SongPart, Singer: seg.Element.Singer},
			}
		}
		current.Text += seg.Text
		current.Syllables = append(current.Syllables, Syllable{
			Time:         seg.Time,
			Duration:     seg.Duration,
			Text:         seg.Text,
			IsBackground: seg.Element.IsBackground,
		})
		if seg.IsLineEnding == 1 {
			closeLine(doc, current)
			current = nil
		}
	}
	if current != nil {
		closeLine(doc, current)
	}
	return doc
}

func closeLine(doc *Document, line *Line) {
	line.Time, line.Duration = DeriveTiming(line.Syllables)
	line.Text = strings.TrimSpace(line.Text)
	doc.Lines = append(doc.Lines, *line)
}

// V2ToV1 flattens a canonical document back into the v1 form. The
// round trip preserves line count, per-line text, and line-ending
// placement for any input with at least one syllable per line.
func V2ToV1(doc *Document) *FlatDocument {
	if doc == nil {
		return nil
	}

	flat := &FlatDocument{
		Tools:    doc.Tools,
		Metadata: doc.Metadata,
		Cached:   doc.Cached,
	}
	if flat.Cached == "" {
		flat.Cached = CachedNone
	}

	if doc.Type != SyncWord {
		flat.Type = string(doc.Type)
		for _, line := range doc.Lines {
			flat.Segments = append(flat.Segments, FlatSegment{
				Time:         line.Time,
				Duration:     line.Duration,
				Text:         line.Text,
				IsLineEnding: 1,
				Element:      FlatElement{Key: line.Element.Key, SongPart: line.Element.SongPart, Singer: line.Element.Singer},
			})
		}
		return flat
	}

	flat.Type = v1WordType
	for _, line := range doc.Lines {
		if len(line.Syllables) == 0 {
			flat.Segments = append(flat.Segments, FlatSegment{
				Time:         line.Time,
				Duration:     line.Duration,
				Text:         line.Text,
				IsLineEnding: 1,
				Element:      FlatElement{Key: line.Element.Key, SongPart: line.Element.SongPart, Singer: line.Element.Singer},
			})
			continue
		}
		for i, syl := range line.Syllables {
			ending := 0
			if i == len(line.Syllables)-1 {
				ending = 1
			}
			flat.Segments = append(flat.Segments, FlatSegment{
				Time:         syl.Time,
				Duration:     syl.Duration,
				Text:         syl.Text,
				IsLineEnding: ending,
				Element: FlatElement{
					Key:          line.Element.Key,
					SongPart:     line.Element.SongPart,
					Singer:       line.Element.Singer,
					IsBackground: syl.IsBackground,
				},
			})
		}
	}
	return flat
}
