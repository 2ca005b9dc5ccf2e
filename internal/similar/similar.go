// Package similar finds near-duplicate issues and pull requests through the
// forge's search endpoint.
package similar

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hookbot/hookbot/internal/github"
)

// MaxResults caps the items returned by FindSimilar.
const MaxResults = 5

// maxQueryTerms bounds the words taken from a title; long queries match
// nothing on the search endpoint.
const maxQueryTerms = 8

type Kind string

const (
	KindIssue       Kind = "issue"
	KindPullRequest Kind = "pr"
)

type Item struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
}

// Searcher is the slice of the forge adapter this package needs.
type Searcher interface {
	SearchIssues(ctx context.Context, installationID int64, query string, perPage int) ([]github.SearchItem, error)
}

type Finder struct {
	search Searcher
	limit  int
}

// NewFinder returns a finder capped at limit results (MaxResults when limit
// is out of range).
func NewFinder(search Searcher, limit int) *Finder {
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}
	return &Finder{search: search, limit: limit}
}

// FindSimilar returns up to the configured number of items whose titles
// match title, excluding excludeNumber, in search relevance order.
//
// A nil slice with a non-nil error means the search failed. A non-nil empty
// slice means it succeeded and found nothing.
func (f *Finder) FindSimilar(ctx context.Context, installationID int64, owner, repo, title string, excludeNumber int, kind Kind) ([]Item, error) {
	terms := queryTerms(title)
	if len(terms) == 0 {
		return []Item{}, nil
	}

	query := fmt.Sprintf("%s repo:%s/%s is:%s in:title", strings.Join(terms, " "), owner, repo, kind)
	results, err := f.search.SearchIssues(ctx, installationID, query, f.limit+1)
	if err != nil {
		return nil, fmt.Errorf("search similar %ss in %s/%s: %w", kind, owner, repo, err)
	}

	items := make([]Item, 0, f.limit)
	for _, r := range results {
		if r.Number == excludeNumber {
			continue
		}
		items = append(items, Item{Number: r.Number, Title: r.Title, URL: r.HTMLURL})
		if len(items) == f.limit {
			break
		}
	}
	return items, nil
}

// queryTerms reduces a title to plain words so search qualifiers such as
// "is:" or quotes in user text cannot alter the query.
func queryTerms(title string) []string {
	fields := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	terms := make([]string, 0, maxQueryTerms)
	for _, f := range fields {
		f = strings.Trim(f, "-_")
		if len(f) < 2 {
			continue
		}
		terms = append(terms, strings.ToLower(f))
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}
