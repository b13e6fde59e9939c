package lyrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var lrcLineRegex = regexp.MustCompile(`^\[(\d+):(\d+)\.(\d+)\]\s*(.*)$`)

// ParseLRC converts line-synced LRC text into a canonical document.
// Each line's duration is the gap to the next marker, or the remainder
// of totalDurationMs for the last line. Lines whose text is empty after
// trimming are dropped; lines that don't match the marker format are
// skipped, never fatal.
func ParseLRC(synced string, totalDurationMs int) *Document {
	doc := &Document{
		Type:   SyncLine,
		Cached: CachedNone,
	}

	for _, raw := range strings.Split(synced, "\n") {
		m := lrcLineRegex.FindStringSubmatch(strings.TrimRight(raw, "\r"))
		if m == nil {
			continue
		}

		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.Atoi(m[2])
		fraction, _ := strconv.Atoi(m[3])

		// Two fraction digits are centiseconds, three are milliseconds.
		millis := fraction
		if len(m[3]) == 2 {
			millis = fraction * 10
		}

		timeMs := minutes*60000 + seconds*1000 + millis
		doc.Lines = append(doc.Lines, Line{
			Time:      timeMs,
			Text:      m[4],
			Syllables: []Syllable{},
			Element:   Element{Key: fmt.Sprintf("L%d", len(doc.Lines)+1)},
		})
	}

	for i := 0; i < len(doc.Lines)-1; i++ {
		doc.Lines[i].Duration = doc.Lines[i+1].Time - doc.Lines[i].Time
	}
	if n := len(doc.Lines); n > 0 {
		doc.Lines[n-1].Duration = totalDurationMs - doc.Lines[n-1].Time
	}

	kept := doc.Lines[:0]
	for _, line := range doc.Lines {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		kept = append(kept, line)
	}
	doc.Lines = kept

	return doc
}
