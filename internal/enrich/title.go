package enrich

import (
	"regexp"
	"strconv"
	"strings"
)

// MediaType is what a job name appears to contain.
type MediaType string

const (
	MediaMovie   MediaType = "movie"
	MediaTV      MediaType = "tv"
	MediaUnknown MediaType = "unknown"
)

// ParsedTitle is the searchable part of a release name.
type ParsedTitle struct {
	Title   string
	Year    int // 0 if none
	Type    MediaType
	Season  int
	Episode int
}

var (
	reEpisode      = regexp.MustCompile(`\b[Ss](\d{1,2})[Ee](\d{1,2})\b`)
	reSeason       = regexp.MustCompile(`\b[Ss](\d{1,2})\b`)
	reEpisodeAfter = regexp.MustCompile(`^\s*[Ee]\d`)
	reYear         = regexp.MustCompile(`\b(19\d{2}|20[0-2]\d)\b`)
	reSpaces       = regexp.MustCompile(`\s+`)
	reEdges        = regexp.MustCompile(`^[-.\s]+|[-.\s]+$`)
	reDigits       = regexp.MustCompile(`^\d+$`)

	releaseNoise = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(1080p|720p|480p|2160p|4K|UHD|HD|SD)\b`),
		regexp.MustCompile(`(?i)\b(BluRay|BDRip|DVDRip|WEBRip|WEB-DL|HDRip|CAM|TS|TC|R5|SCR)\b`),
		regexp.MustCompile(`(?i)\b(x264|x265|HEVC|AVC|H\.264|H\.265)\b`),
		regexp.MustCompile(`(?i)\b(AC3|DTS|AAC|MP3|FLAC)\b`),
		regexp.MustCompile(`(?i)\b(5\.1|7\.1|2\.0|Stereo|Mono)\b`),
		regexp.MustCompile(`(?i)\b(REPACK|PROPER|READNFO|NFO)\b`),
		regexp.MustCompile(`\[.*?\]`),
		regexp.MustCompile(`\(.*?\)`),
	}
)

// ParseTitle extracts a search title from a release name. Episode markers
// (S01E02) win over season-only markers (S02), which win over a year.
func ParseTitle(name string) ParsedTitle {
	if strings.TrimSpace(name) == "" {
		return ParsedTitle{Type: MediaUnknown}
	}
	name = strings.NewReplacer("_", " ", ".", " ").Replace(name)

	if m := reEpisode.FindStringSubmatchIndex(name); m != nil {
		season, _ := strconv.Atoi(name[m[2]:m[3]])
		episode, _ := strconv.Atoi(name[m[4]:m[5]])
		return ParsedTitle{
			Title:   cleanTitle(name[:m[0]]),
			Type:    MediaTV,
			Season:  season,
			Episode: episode,
		}
	}

	for _, m := range reSeason.FindAllStringSubmatchIndex(name, -1) {
		if reEpisodeAfter.MatchString(name[m[1]:]) {
			continue
		}
		season, _ := strconv.Atoi(name[m[2]:m[3]])
		if season < 1 {
			continue
		}
		title := cleanTitle(name[:m[0]])
		if len(title) > 2 && !reDigits.MatchString(strings.ReplaceAll(title, " ", "")) {
			return ParsedTitle{Title: title, Type: MediaTV, Season: season}
		}
		break
	}

	p := ParsedTitle{Type: MediaMovie}
	titlePart := name
	if m := reYear.FindStringSubmatchIndex(name); m != nil {
		p.Year, _ = strconv.Atoi(name[m[2]:m[3]])
		titlePart = name[:m[0]]
	}
	p.Title = cleanTitle(titlePart)
	return p
}

func cleanTitle(title string) string {
	if title == "" {
		return ""
	}
	cleaned := title
	for _, re := range releaseNoise {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(reSpaces.ReplaceAllString(cleaned, " "))
	cleaned = reEdges.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return strings.TrimSpace(title)
	}
	return cleaned
}

// NormalizeKey folds a parsed title into the form used for cache keys.
func (p ParsedTitle) NormalizeKey() string {
	key := string(p.Type) + "|" + strings.ToLower(strings.TrimSpace(p.Title))
	if p.Year > 0 {
		key += "|" + strconv.Itoa(p.Year)
	}
	return key
}
