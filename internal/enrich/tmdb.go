package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lev "github.com/agnivade/levenshtein"
	jsoniter "github.com/json-iterator/go"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultTMDBBaseURL = "https://api.themoviedb.org/3"
	posterBaseURL      = "https://image.tmdb.org/t/p/w500"
)

// tmdbGenres covers the movie and TV genre lists of TMDB v3.
var tmdbGenres = map[int]string{
	28: "Action", 12: "Adventure", 16: "Animation", 35: "Comedy", 80: "Crime",
	99: "Documentary", 18: "Drama", 10751: "Family", 14: "Fantasy", 36: "History",
	27: "Horror", 10402: "Music", 9648: "Mystery", 10749: "Romance",
	878: "Science Fiction", 10770: "TV Movie", 53: "Thriller", 10752: "War",
	37: "Western", 10759: "Action & Adventure", 10762: "Kids", 10763: "News",
	10764: "Reality", 10765: "Sci-Fi & Fantasy", 10766: "Soap", 10767: "Talk",
	10768: "War & Politics",
}

// Lookup finds metadata for a parsed title. A nil result with a nil error
// is a definite miss.
type Lookup interface {
	Find(ctx context.Context, p ParsedTitle) (*types.Enrichment, error)
}

// TMDB is a minimal TMDB v3 search client.
type TMDB struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewTMDB creates a client. baseURL may be empty.
func NewTMDB(apiKey, baseURL string, timeout time.Duration) *TMDB {
	if baseURL == "" {
		baseURL = DefaultTMDBBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TMDB{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type tmdbResult struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
	GenreIDs     []int   `json:"genre_ids"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
}

func (r tmdbResult) displayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

func (r tmdbResult) year() int {
	date := r.ReleaseDate
	if date == "" {
		date = r.FirstAirDate
	}
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// Find implements Lookup.
func (t *TMDB) Find(ctx context.Context, p ParsedTitle) (*types.Enrichment, error) {
	if p.Title == "" {
		return nil, nil
	}
	kind := "movie"
	if p.Type == MediaTV {
		kind = "tv"
	}
	q := url.Values{"api_key": {t.apiKey}, "query": {p.Title}, "language": {"en-US"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/search/"+kind+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tmdb search %s: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tmdb search %s: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page struct {
		Results []tmdbResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("tmdb search %s: decode: %w", kind, err)
	}
	best, ok := bestMatch(p, page.Results)
	if !ok {
		return nil, nil
	}
	return best.enrichment(), nil
}

// bestMatch prefers a result from the parsed year, then the smallest edit
// distance between titles. Ties keep TMDB's relevance order.
func bestMatch(p ParsedTitle, results []tmdbResult) (tmdbResult, bool) {
	if len(results) == 0 {
		return tmdbResult{}, false
	}
	want := strings.ToLower(p.Title)
	bestIdx, bestYear, bestDist := -1, false, 0
	for i, r := range results {
		yearMatch := p.Year > 0 && r.year() == p.Year
		dist := lev.ComputeDistance(want, strings.ToLower(r.displayTitle()))
		switch {
		case bestIdx < 0,
			yearMatch && !bestYear,
			yearMatch == bestYear && dist < bestDist:
			bestIdx, bestYear, bestDist = i, yearMatch, dist
		}
	}
	return results[bestIdx], true
}

func (r tmdbResult) enrichment() *types.Enrichment {
	e := &types.Enrichment{
		Rating:      r.VoteAverage,
		Description: r.Overview,
	}
	if r.PosterPath != "" {
		e.PosterURL = posterBaseURL + r.PosterPath
	}
	for _, id := range r.GenreIDs {
		if name, ok := tmdbGenres[id]; ok {
			e.Genres = append(e.Genres, name)
		}
	}
	return e
}
