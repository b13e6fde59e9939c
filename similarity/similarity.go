// Package similarity scores how likely two song descriptions refer to
// the same recording. Scores are in [0, 1]; MatchThreshold is the floor
// below which a candidate is never accepted.
package similarity

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
)

const (
	// MatchThreshold is the minimum combined score for a match.
	MatchThreshold = 0.70
	// scoreEpsilon treats two scores within this range as tied.
	scoreEpsilon = 0.001
	// ambiguityGap flags a best match barely ahead of the runner-up.
	ambiguityGap = 0.05
)

// Candidate describes one song, either the query or a search result.
// Duration is in seconds; zero means unknown.
type Candidate struct {
	Title    string
	Artist   string
	Album    string
	Duration float64
}

// Components are the per-field scores feeding the combined score.
type Components struct {
	Title    float64 `json:"title"`
	Artist   float64 `json:"artist"`
	Album    float64 `json:"album"`
	Duration float64 `json:"duration"`
}

// Result is the outcome of scoring one candidate against a query.
type Result struct {
	Score      float64    `json:"score"`
	IsMatch    bool       `json:"isMatch"`
	Reason     string     `json:"reason"`
	Components Components `json:"components"`
}

// Match pairs a winning candidate with its score and position.
type Match struct {
	Index     int
	Candidate Candidate
	Result    Result
}

var (
	punctRegex    = regexp.MustCompile(`[^\w\s]`)
	spaceRegex    = regexp.MustCompile(`\s+`)
	segmentRegex  = regexp.MustCompile(`\(([^)]*)\)|\[([^\]]*)\]`)
	dashTailRegex = regexp.MustCompile(`\s+-\s+([^-]+)$`)
	featRegex     = regexp.MustCompile(`^(?:feat\.?|ft\.?|featuring|with)\s+(.+)$`)
	leadArticle   = regexp.MustCompile(`^(?:the|a|an)\s+`)
	tailArticle   = regexp.MustCompile(`\s+(?:the|a|an)$`)

	artistSplitRegex = regexp.MustCompile(`\s*(?:&|,|\band\b|\bvs\.?\b|\bversus\b|\bx\b|\bfeat\.?\b|\bft\.?\b|\bfeaturing\b|\bwith\b)\s*`)
)

// tagSynonyms folds spelling variants into one canonical tag.
var tagSynonyms = map[string]string{
	"unplugged":  "acoustic",
	"concert":    "live",
	"rmx":        "remix",
	"mix":        "remix",
	"remastered": "remaster",
	"rerecorded": "remaster",
	"ver":        "version",
	"ext":        "extended",
	"radioedit":  "edit",
	"singleedit": "edit",
	"roughmix":   "demo",
	"rough":      "demo",
}

var tagWords = map[string]bool{
	"remix": true, "live": true, "acoustic": true, "instrumental": true,
	"karaoke": true, "remaster": true, "explicit": true, "clean": true,
	"censored": true, "demo": true, "extended": true, "full": true,
	"deluxe": true, "anniversary": true, "special": true, "mono": true,
	"stereo": true, "edit": true, "version": true,
}

// versionTags distinguish alternate recordings of the same base title.
var versionTags = []string{"live", "acoustic", "remix", "instrumental"}

// criticalTags mark recordings that are not interchangeable with the
// studio original.
var criticalTags = map[string]bool{
	"live": true, "acoustic": true, "remix": true, "instrumental": true, "karaoke": true,
}

// normalizeText lowercases, strips punctuation, and collapses runs of
// whitespace.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = punctRegex.ReplaceAllString(s, " ")
	s = spaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// diceCoefficient is bigram similarity over normalized strings.
func diceCoefficient(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	r1, r2 := []rune(s1), []rune(s2)
	if len(r1) < 2 || len(r2) < 2 {
		return 0
	}

	bigrams := map[string]int{}
	for i := 0; i < len(r1)-1; i++ {
		bigrams[string(r1[i:i+2])]++
	}
	overlap := 0
	for i := 0; i < len(r2)-1; i++ {
		key := string(r2[i : i+2])
		if bigrams[key] > 0 {
			bigrams[key]--
			overlap++
		}
	}
	return 2.0 * float64(overlap) / float64(len(r1)-1+len(r2)-1)
}

// levenshteinSimilarity is 1 - editDistance/maxLen.
func levenshteinSimilarity(s1, s2 string) float64 {
	r1, r2 := []rune(s1), []rune(s2)
	if len(r1) == 0 && len(r2) == 0 {
		return 1.0
	}
	if len(r1) == 0 || len(r2) == 0 {
		return 0
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	dist := prev[len(r2)]
	maxLen := len(r1)
	if len(r2) > maxLen {
		maxLen = len(r2)
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

type titleAnalysis struct {
	base        string
	tags        map[string]bool
	featArtists []string
}

// analyzeTitle strips feat clauses and version markers out of a title,
// recording them separately. Markers are recognized inside parentheses,
// brackets, and trailing dash segments before punctuation is stripped,
// so "Song (Live)" and "Song - Live" both yield base "song" with a
// live tag.
func analyzeTitle(title string) titleAnalysis {
	analysis := titleAnalysis{tags: map[string]bool{}}
	lower := strings.ToLower(title)

	remainder := segmentRegex.ReplaceAllStringFunc(lower, func(seg string) string {
		inner := strings.Trim(seg, "()[]")
		if consumeSegment(inner, &analysis) {
			return " "
		}
		return " " + inner + " "
	})
	if m := dashTailRegex.FindStringSubmatch(remainder); m != nil {
		if consumeSegment(strings.TrimSpace(m[1]), &analysis) {
			remainder = remainder[:len(remainder)-len(m[0])]
		}
	}

	base := normalizeText(remainder)
	base = leadArticle.ReplaceAllString(base, "")
	base = tailArticle.ReplaceAllString(base, "")
	analysis.base = strings.TrimSpace(base)
	return analysis
}

// consumeSegment interprets one extracted title segment as a feat
// clause or version tag. Returns false when the segment is neither, in
// which case it stays part of the base title.
func consumeSegment(segment string, analysis *titleAnalysis) bool {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return true
	}

	if m := featRegex.FindStringSubmatch(segment); m != nil {
		for _, part := range artistSplitRegex.Split(m[1], -1) {
			if name := normalizeText(part); name != "" {
				analysis.featArtists = append(analysis.featArtists, name)
			}
		}
		return true
	}

	found := false
	squashed := punctRegex.ReplaceAllString(strings.ReplaceAll(segment, " ", ""), "")
	if tag, ok := canonicalTag(squashed); ok {
		analysis.tags[tag] = true
		found = true
	}
	for _, word := range strings.Fields(normalizeText(segment)) {
		if tag, ok := canonicalTag(word); ok {
			analysis.tags[tag] = true
			found = true
		}
	}
	return found
}

func canonicalTag(word string) (string, bool) {
	if canonical, ok := tagSynonyms[word]; ok {
		return canonical, true
	}
	if tagWords[word] {
		return word, true
	}
	return "", false
}

// titleSimilarity compares two analyzed titles. On an exact base match
// a bare title accepts any tagged variant at full score; only two
// tagged sides naming different version tags get downgraded to 0.85.
func titleSimilarity(query, candidate titleAnalysis) float64 {
	if query.base != "" && query.base == candidate.base {
		if versionTagConflict(query.tags, candidate.tags) ||
			versionTagConflict(candidate.tags, query.tags) {
			return 0.85
		}
		return 1.0
	}

	score := diceCoefficient(query.base, candidate.base)*0.7 +
		levenshteinSimilarity(query.base, candidate.base)*0.3

	queryCritical := hasCriticalTag(query.tags)
	candidateCritical := hasCriticalTag(candidate.tags)
	switch {
	case queryCritical && candidateCritical && !tagsOverlap(query.tags, candidate.tags):
		score -= 0.4
	case queryCritical != candidateCritical:
		score -= 0.15
	}
	if score < 0 {
		return 0
	}
	return score
}

// versionTagConflict reports whether b carries a version tag a lacks,
// for sides that both declared tags. An untagged side stays neutral so
// a plain query still accepts a live or remix candidate.
func versionTagConflict(a, b map[string]bool) bool {
	if len(a) == 0 {
		return false
	}
	for _, tag := range versionTags {
		if b[tag] && !a[tag] {
			return true
		}
	}
	return false
}

func hasCriticalTag(tags map[string]bool) bool {
	for tag := range tags {
		if criticalTags[tag] {
			return true
		}
	}
	return false
}

func tagsOverlap(a, b map[string]bool) bool {
	for tag := range a {
		if criticalTags[tag] && b[tag] {
			return true
		}
	}
	return false
}

// normalizeArtist canonicalizes a credit string: collaboration
// separators split it into individual names, leading articles drop,
// and the names are sorted so ordering differences don't matter.
func normalizeArtist(name string) string {
	lower := segmentRegex.ReplaceAllString(strings.ToLower(name), " ")
	var names []string
	for _, part := range artistSplitRegex.Split(lower, -1) {
		part = normalizeText(part)
		part = leadArticle.ReplaceAllString(part, "")
		if part != "" {
			names = append(names, part)
		}
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

func artistParts(name string) map[string]bool {
	parts := map[string]bool{}
	lower := segmentRegex.ReplaceAllString(strings.ToLower(name), " ")
	for _, part := range artistSplitRegex.Split(lower, -1) {
		part = normalizeText(part)
		part = leadArticle.ReplaceAllString(part, "")
		if part != "" {
			parts[part] = true
		}
	}
	return parts
}

// artistSimilarity compares artist credits. Featured artists pulled
// out of either title count as part of that side's credit, so a
// shared individual across differing collaboration credits scores 0.9.
func artistSimilarity(queryArtist, candidateArtist string, queryFeat, candidateFeat []string) float64 {
	n1, n2 := normalizeArtist(queryArtist), normalizeArtist(candidateArtist)
	if n1 == n2 && n1 != "" {
		return 1.0
	}

	p1, p2 := artistParts(queryArtist), artistParts(candidateArtist)
	for _, name := range queryFeat {
		p1[name] = true
	}
	for _, name := range candidateFeat {
		p2[name] = true
	}
	for part := range p1 {
		if p2[part] {
			return 0.9
		}
	}
	return diceCoefficient(n1, n2)
}

// albumSimilarity returns a weak neutral score when either album is
// unknown so missing albums neither help nor hurt.
func albumSimilarity(queryAlbum, candidateAlbum string) float64 {
	n1, n2 := normalizeText(queryAlbum), normalizeText(candidateAlbum)
	if n1 == "" || n2 == "" {
		return 0.1
	}
	if n1 == n2 {
		return 1.0
	}
	return diceCoefficient(n1, n2)
}

// durationScore bands the absolute difference in seconds. Unknown
// durations get a neutral 0.7.
func durationScore(queryDuration, candidateDuration float64) float64 {
	if queryDuration <= 0 || candidateDuration <= 0 {
		return 0.7
	}
	diff := math.Abs(queryDuration - candidateDuration)
	switch {
	case diff == 0:
		return 1.0
	case diff <= 2:
		return 0.95
	case diff <= 5:
		return 0.7
	case diff <= 10:
		return 0.4
	case diff <= 15:
		return 0.2
	default:
		return 0.05
	}
}

// Score rates how likely candidate is the same recording the query
// describes. Early rejection caps keep weak titles, weak artists, and
// large duration gaps below MatchThreshold regardless of the other
// components.
func Score(query, candidate Candidate) Result {
	queryTitle := analyzeTitle(query.Title)
	candidateTitle := analyzeTitle(candidate.Title)

	components := Components{
		Title: titleSimilarity(queryTitle, candidateTitle),
		Artist: artistSimilarity(query.Artist, candidate.Artist,
			queryTitle.featArtists, candidateTitle.featArtists),
		Album:    albumSimilarity(query.Album, candidate.Album),
		Duration: durationScore(query.Duration, candidate.Duration),
	}

	if components.Title < 0.7 {
		return Result{
			Score:      math.Min(0.4, components.Title*0.5),
			Reason:     fmt.Sprintf("Title similarity too low: %.3f", components.Title),
			Components: components,
		}
	}
	if components.Artist < 0.6 {
		return Result{
			Score:      math.Min(0.5, components.Artist*0.7),
			Reason:     fmt.Sprintf("Artist similarity too low: %.3f", components.Artist),
			Components: components,
		}
	}

	durationsKnown := query.Duration > 0 && candidate.Duration > 0
	if durationsKnown {
		if diff := math.Abs(query.Duration - candidate.Duration); diff > 2.0 {
			return Result{
				Score:      math.Min(0.6, (components.Title+components.Artist)/2*0.8),
				Reason:     fmt.Sprintf("Duration difference too large: %.1fs", diff),
				Components: components,
			}
		}
	}

	albumsKnown := normalizeText(query.Album) != "" && normalizeText(candidate.Album) != ""
	titleW, artistW, albumW, durationW := 0.5, 0.4, 0.05, 0.05
	switch {
	case albumsKnown && durationsKnown:
		titleW, artistW, albumW, durationW = 0.3, 0.3, 0.2, 0.2
	case albumsKnown:
		titleW, artistW, albumW, durationW = 0.4, 0.4, 0.2, 0
	case durationsKnown:
		titleW, artistW, albumW, durationW = 0.35, 0.35, 0.1, 0.2
	}

	score := components.Title*titleW + components.Artist*artistW +
		components.Album*albumW + components.Duration*durationW

	reason := "Good match"
	if components.Title == 1.0 && components.Artist >= 0.9 {
		score = math.Min(1.0, score+0.05)
		reason = "Exact title and artist match"
	}

	return Result{
		Score:      score,
		IsMatch:    score >= MatchThreshold,
		Reason:     reason,
		Components: components,
	}
}

// FindBestMatch scores every candidate and returns the best one at or
// above MatchThreshold, or nil. Ties within scoreEpsilon break on the
// duration component when the query supplied a duration.
func FindBestMatch(query Candidate, candidates []Candidate) *Match {
	if len(candidates) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(candidates))
	for i, candidate := range candidates {
		result := Score(query, candidate)
		log.Debugf("%s %q by %q -> %.3f (%s)", logcolors.LogTrackScore,
			candidate.Title, candidate.Artist, result.Score, result.Reason)
		matches = append(matches, Match{Index: i, Candidate: candidate, Result: result})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		si, sj := matches[i].Result.Score, matches[j].Result.Score
		if math.Abs(si-sj) < scoreEpsilon && query.Duration > 0 {
			return matches[i].Result.Components.Duration > matches[j].Result.Components.Duration
		}
		return si > sj
	})

	best := matches[0]
	if best.Result.Score < MatchThreshold {
		log.Infof("%s No candidate reached %.2f, best was %q at %.3f (%s)",
			logcolors.LogBestMatch, MatchThreshold, best.Candidate.Title, best.Result.Score, best.Result.Reason)
		return nil
	}
	if len(matches) > 1 {
		gap := best.Result.Score - matches[1].Result.Score
		if gap < ambiguityGap && best.Result.Score < 0.9 {
			log.Warnf("%s Ambiguous match: %q (%.3f) barely ahead of %q (%.3f)",
				logcolors.LogBestMatch, best.Candidate.Title, best.Result.Score,
				matches[1].Candidate.Title, matches[1].Result.Score)
		}
	}

	log.Infof("%s Matched %q by %q with score %.3f (%s)", logcolors.LogBestMatch,
		best.Candidate.Title, best.Candidate.Artist, best.Result.Score, best.Result.Reason)
	return &best
}
