package lyrics

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ttmlNamespace       = "http://www.w3.org/ns/ttml"
	ttmlMetaNamespace   = "http://www.w3.org/ns/ttml#metadata"
	ttmlItunesNamespace = "http://music.apple.com/lyric-ttml-internal"

	defaultLeadingSilence = "0.020"
)

var ttmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// SerializeTTML renders a canonical document as timed-text markup.
// Contiguous lines sharing a song part are grouped into one div, and
// background syllables are wrapped in an x-bg span ahead of the main
// vocal. Whitespace trailing a syllable is emitted outside its span so
// word boundaries survive strict parsers.
func SerializeTTML(doc *Document) (string, error) {
	if doc.Empty() {
		return "", errors.New("no lyric lines to serialize")
	}

	lang := doc.Metadata.Language
	if lang == "" {
		lang = "en"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<tt xmlns="%s" xmlns:ttm="%s" xmlns:itunes="%s" itunes:timing="%s" xml:lang="%s">`,
		ttmlNamespace, ttmlMetaNamespace, ttmlItunesNamespace, doc.Type, lang)

	writeTTMLHead(&b, doc)
	writeTTMLBody(&b, doc)

	b.WriteString(`</tt>`)
	return b.String(), nil
}

func writeTTMLHead(b *strings.Builder, doc *Document) {
	b.WriteString(`<head><metadata>`)
	if doc.Metadata.Title != "" {
		fmt.Fprintf(b, `<ttm:title>%s</ttm:title>`, ttmlEscaper.Replace(doc.Metadata.Title))
	}
	for _, agent := range collectAgents(doc) {
		fmt.Fprintf(b, `<ttm:agent type="%s" xml:id="%s"><ttm:name>%s</ttm:name></ttm:agent>`,
			agent.Type, agentID(agent.Alias), ttmlEscaper.Replace(agent.Name))
	}

	leading := doc.Metadata.LeadingSilence
	if leading == "" {
		leading = defaultLeadingSilence
	}
	fmt.Fprintf(b, `<iTunesMetadata leadingSilence="%s">`, leading)
	if len(doc.Metadata.SongWriters) > 0 {
		b.WriteString(`<songwriters>`)
		for _, sw := range doc.Metadata.SongWriters {
			fmt.Fprintf(b, `<songwriter>%s</songwriter>`, ttmlEscaper.Replace(sw))
		}
		b.WriteString(`</songwriters>`)
	}
	b.WriteString(`</iTunesMetadata></metadata></head>`)
}

func writeTTMLBody(b *strings.Builder, doc *Document) {
	last := doc.Lines[len(doc.Lines)-1]
	fmt.Fprintf(b, `<body dur="%s">`, formatTTMLTime(last.Time+last.Duration))

	for start := 0; start < len(doc.Lines); {
		end := start
		for end+1 < len(doc.Lines) && doc.Lines[end+1].Element.SongPart == doc.Lines[start].Element.SongPart {
			end++
		}
		first, final := doc.Lines[start], doc.Lines[end]

		fmt.Fprintf(b, `<div begin="%s" end="%s"`, formatTTMLTime(first.Time), formatTTMLTime(final.Time+final.Duration))
		if part := first.Element.SongPart; part != "" {
			fmt.Fprintf(b, ` itunes:song-part="%s"`, ttmlEscaper.Replace(part))
		}
		b.WriteString(`>`)

		for i := start; i <= end; i++ {
			writeTTMLParagraph(b, doc, doc.Lines[i])
		}
		b.WriteString(`</div>`)
		start = end + 1
	}
	b.WriteString(`</body>`)
}

func writeTTMLParagraph(b *strings.Builder, doc *Document, line Line) {
	fmt.Fprintf(b, `<p begin="%s" end="%s"`, formatTTMLTime(line.Time), formatTTMLTime(line.Time+line.Duration))
	if line.Element.Key != "" {
		fmt.Fprintf(b, ` itunes:key="%s"`, ttmlEscaper.Replace(line.Element.Key))
	}
	if line.Element.Singer != "" {
		fmt.Fprintf(b, ` ttm:agent="%s"`, agentID(line.Element.Singer))
	}
	b.WriteString(`>`)

	if doc.Type != SyncWord || len(line.Syllables) == 0 {
		b.WriteString(ttmlEscaper.Replace(line.Text))
		b.WriteString(`</p>`)
		return
	}

	var background, main []Syllable
	for _, s := range line.Syllables {
		if s.IsBackground {
			background = append(background, s)
		} else {
			main = append(main, s)
		}
	}
	if len(background) > 0 {
		b.WriteString(`<span ttm:role="x-bg">`)
		for _, s := range background {
			writeTTMLSpan(b, s)
		}
		b.WriteString(`</span>`)
	}
	for _, s := range main {
		writeTTMLSpan(b, s)
	}
	b.WriteString(`</p>`)
}

func writeTTMLSpan(b *strings.Builder, s Syllable) {
	text, trailing := splitTrailingSpace(s.Text)
	fmt.Fprintf(b, `<span begin="%s" end="%s">%s</span>%s`,
		formatTTMLTime(s.Time), formatTTMLTime(s.End()), ttmlEscaper.Replace(text), trailing)
}

// splitTrailingSpace separates a syllable's trailing whitespace from its
// rendered text so the whitespace lands between spans.
func splitTrailingSpace(text string) (string, string) {
	trimmed := strings.TrimRight(text, " \t")
	return trimmed, text[len(trimmed):]
}

// collectAgents returns the document's declared agents, or agents
// synthesized from the singer aliases appearing in the lines. An alias
// ending in "000" denotes a group vocal.
func collectAgents(doc *Document) []Agent {
	if len(doc.Metadata.Agents) > 0 {
		seen := map[string]bool{}
		var agents []Agent
		for _, line := range doc.Lines {
			alias := line.Element.Singer
			if alias == "" || seen[alias] {
				continue
			}
			seen[alias] = true
			for _, a := range doc.Metadata.Agents {
				if a.Alias == alias {
					agents = append(agents, a)
					break
				}
			}
		}
		if len(agents) > 0 {
			return agents
		}
	}

	seen := map[string]bool{}
	var agents []Agent
	singers, groups := 0, 0
	for _, line := range doc.Lines {
		alias := line.Element.Singer
		if alias == "" || seen[alias] {
			continue
		}
		seen[alias] = true
		agent := Agent{Type: "person", Alias: alias}
		if strings.HasSuffix(strings.TrimPrefix(alias, "v"), "000") {
			groups++
			agent.Type = "group"
			agent.Name = fmt.Sprintf("Group %d", groups)
		} else {
			singers++
			agent.Name = fmt.Sprintf("Singer %d", singers)
		}
		agents = append(agents, agent)
	}
	if len(agents) == 0 {
		agents = []Agent{{Type: "person", Name: "Singer 1", Alias: "v1"}}
	}
	return agents
}

// agentID maps a singer alias back to its xml:id form ("v1" -> "voice1").
func agentID(alias string) string {
	if alias == "" {
		return "voice1"
	}
	if strings.HasPrefix(alias, "voice") {
		return alias
	}
	return "voice" + strings.TrimPrefix(alias, "v")
}

// formatTTMLTime renders milliseconds as H:MM:SS.mmm, M:SS.mmm, or
// S.mmm depending on magnitude.
func formatTTMLTime(ms int) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3600000
	minutes := (ms % 3600000) / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000

	switch {
	case hours > 0:
		return fmt.Sprintf("%d:%02d:%02d.%03d", hours, minutes, seconds, millis)
	case minutes > 0:
		return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
	default:
		return fmt.Sprintf("%d.%03d", seconds, millis)
	}
}
