package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/similarity"
)

// SongRef identifies one song for fingerprinting. Duration is in
// seconds; zero and empty strings mean unknown.
type SongRef struct {
	Title      string
	Artist     string
	Album      string
	Duration   float64
	ISRC       string
	PlatformID string
}

var (
	unsafeCharsRegex = regexp.MustCompile(`[<>:"/\\|?*]`)
	multiSpaceRegex  = regexp.MustCompile(`\s+`)

	nameExtRegex      = regexp.MustCompile(`\.[a-zA-Z0-9]+$`)
	nameIDsRegex      = regexp.MustCompile(`\s*<(.+?)::(.+?)>\s*$`)
	nameDurationRegex = regexp.MustCompile(`\s*\((\d+(?:\.\d+)?)\)\s*$`)
	nameAlbumRegex    = regexp.MustCompile(`\s*\[([^\]]+)\]\s*$`)
	nameSplitRegex    = regexp.MustCompile(`^(.+?)\s*-\s*(.+)$`)
)

// cleanup strips characters that are unsafe in file names and
// collapses whitespace.
func cleanup(s string) string {
	s = unsafeCharsRegex.ReplaceAllString(s, "")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// FileName builds the reversible fingerprint a song is stored under:
//
//	Artist - Title [Album] (266.00) <ISRC::PlatformID>
//
// Album and duration are omitted when unknown; absent identifiers are
// spelled "null" so the ID block always parses.
func FileName(ref SongRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s", cleanup(ref.Artist), cleanup(ref.Title))
	if album := cleanup(ref.Album); album != "" {
		fmt.Fprintf(&b, " [%s]", album)
	}
	if ref.Duration > 0 {
		fmt.Fprintf(&b, " (%.2f)", ref.Duration)
	}
	isrc, platformID := ref.ISRC, ref.PlatformID
	if isrc == "" {
		isrc = "null"
	}
	if platformID == "" {
		platformID = "null"
	}
	fmt.Fprintf(&b, " <%s::%s>", cleanup(isrc), cleanup(platformID))
	return b.String()
}

// ParseName inverts FileName, tolerating a trailing extension.
func ParseName(name string) SongRef {
	var ref SongRef
	name = nameExtRegex.ReplaceAllString(name, "")

	if m := nameIDsRegex.FindStringSubmatch(name); m != nil {
		if m[1] != "null" {
			ref.ISRC = m[1]
		}
		if m[2] != "null" {
			ref.PlatformID = m[2]
		}
		name = name[:len(name)-len(m[0])]
	}
	if m := nameDurationRegex.FindStringSubmatch(name); m != nil {
		ref.Duration, _ = strconv.ParseFloat(m[1], 64)
		name = name[:len(name)-len(m[0])]
	}
	if m := nameAlbumRegex.FindStringSubmatch(name); m != nil {
		ref.Album = m[1]
		name = name[:len(name)-len(m[0])]
	}
	if m := nameSplitRegex.FindStringSubmatch(name); m != nil {
		ref.Artist = strings.TrimSpace(m[1])
		ref.Title = strings.TrimSpace(m[2])
	} else {
		ref.Title = strings.TrimSpace(name)
	}
	return ref
}

// Keywords picks search terms from the song identity: up to two words
// longer than three characters from each of title, artist, and album.
func Keywords(ref SongRef) []string {
	var keywords []string
	for _, field := range []string{ref.Title, ref.Artist, ref.Album} {
		count := 0
		for _, word := range strings.Fields(cleanup(field)) {
			if len(word) <= 3 {
				continue
			}
			keywords = append(keywords, word)
			if count++; count == 2 {
				break
			}
		}
	}
	return keywords
}

// FindExactByIDs returns the first file whose fingerprint carries the
// same ISRC or platform ID.
func FindExactByIDs(files []FileInfo, isrc, platformID string) *FileInfo {
	for i, file := range files {
		parsed := ParseName(file.Name)
		if isrc != "" && parsed.ISRC == isrc {
			return &files[i]
		}
		if platformID != "" && parsed.PlatformID == platformID {
			return &files[i]
		}
	}
	return nil
}

// FindExisting searches the store for a file holding this song's
// lyrics: exact identifier match first, then fuzzy metadata matching
// over the fingerprinted names.
func FindExisting(ctx context.Context, store Store, ref SongRef) (*FileInfo, error) {
	keywords := Keywords(ref)
	if len(keywords) == 0 {
		return nil, nil
	}

	files, err := store.SearchByKeywords(ctx, keywords)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	if exact := FindExactByIDs(files, ref.ISRC, ref.PlatformID); exact != nil {
		log.Debugf("%s Exact identifier match on stored file %s", logcolors.LogMatch, exact.Name)
		return exact, nil
	}

	candidates := make([]similarity.Candidate, len(files))
	for i, file := range files {
		parsed := ParseName(file.Name)
		candidates[i] = similarity.Candidate{
			Title:    parsed.Title,
			Artist:   parsed.Artist,
			Album:    parsed.Album,
			Duration: parsed.Duration,
		}
	}

	match := similarity.FindBestMatch(similarity.Candidate{
		Title:    ref.Title,
		Artist:   ref.Artist,
		Album:    ref.Album,
		Duration: ref.Duration,
	}, candidates)
	if match == nil {
		return nil, nil
	}
	return &files[match.Index], nil
}
