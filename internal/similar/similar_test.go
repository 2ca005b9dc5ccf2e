package similar

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbot/hookbot/internal/github"
)

type fakeSearcher struct {
	query   string
	perPage int
	items   []github.SearchItem
	err     error
}

func (f *fakeSearcher) SearchIssues(_ context.Context, _ int64, query string, perPage int) ([]github.SearchItem, error) {
	f.query = query
	f.perPage = perPage
	return f.items, f.err
}

func searchItems(numbers ...int) []github.SearchItem {
	out := make([]github.SearchItem, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, github.SearchItem{Number: n, Title: "t"})
	}
	return out
}

func TestFindSimilarExcludesTriggerAndCaps(t *testing.T) {
	s := &fakeSearcher{items: searchItems(10, 1, 2, 3, 4, 5, 6)}
	f := NewFinder(s, 0)

	items, err := f.FindSimilar(context.Background(), 7, "octo", "alpha", "App crashes on start", 10, KindIssue)
	require.NoError(t, err)
	require.Len(t, items, MaxResults)
	for i, it := range items {
		assert.Equal(t, i+1, it.Number)
	}
	assert.Equal(t, MaxResults+1, s.perPage)
	assert.Equal(t, "app crashes on start repo:octo/alpha is:issue in:title", s.query)
}

func TestFindSimilarPullRequests(t *testing.T) {
	s := &fakeSearcher{items: searchItems(4)}
	items, err := NewFinder(s, 3).FindSimilar(context.Background(), 1, "o", "r", "Add login", 9, KindPullRequest)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Contains(t, s.query, "is:pr")
}

func TestFindSimilarEmptyVersusFailed(t *testing.T) {
	empty, err := NewFinder(&fakeSearcher{items: searchItems(3)}, 5).
		FindSimilar(context.Background(), 1, "o", "r", "only me", 3, KindIssue)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	failed, err := NewFinder(&fakeSearcher{err: errors.New("401")}, 5).
		FindSimilar(context.Background(), 1, "o", "r", "only me", 3, KindIssue)
	require.Error(t, err)
	assert.Nil(t, failed)
}

func TestFindSimilarBlankTitleSkipsSearch(t *testing.T) {
	s := &fakeSearcher{}
	items, err := NewFinder(s, 5).FindSimilar(context.Background(), 1, "o", "r", " ?! ", 1, KindIssue)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, s.query)
}

func TestQueryTermsStripsQualifiers(t *testing.T) {
	assert.Equal(t, []string{"is", "open", "label", "bug", "crash"}, queryTerms(`is:open "label:bug" crash!`))
	assert.Len(t, queryTerms("a b c d e f g h i j k l m n o p q r s"), 0)
	assert.Len(t, queryTerms("one two three four five six seven eight nine ten"), maxQueryTerms)
}
