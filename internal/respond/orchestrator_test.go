package respond

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/github"
	"github.com/hookbot/hookbot/internal/labeler"
	"github.com/hookbot/hookbot/internal/media"
	"github.com/hookbot/hookbot/internal/similar"
)

type postedComment struct {
	number int
	sha    string
	body   string
}

type fakeForge struct {
	mu            sync.Mutex
	comments      []postedComment
	labels        [][]string
	assignees     []string
	collaborators []github.Collaborator
	labelErr      error
	commentErr    error
}

func (f *fakeForge) CreateIssueComment(_ context.Context, _ int64, _, _ string, number int, body string) (*github.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	f.comments = append(f.comments, postedComment{number: number, body: body})
	return &github.Comment{ID: int64(len(f.comments)), Body: body}, nil
}

func (f *fakeForge) CreateCommitComment(_ context.Context, _ int64, _, _, sha, body string) (*github.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	f.comments = append(f.comments, postedComment{sha: sha, body: body})
	return &github.Comment{ID: int64(len(f.comments)), Body: body}, nil
}

func (f *fakeForge) AddLabels(_ context.Context, _ int64, _, _ string, _ int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelErr != nil {
		return f.labelErr
	}
	f.labels = append(f.labels, labels)
	return nil
}

func (f *fakeForge) AddAssignees(_ context.Context, _ int64, _, _ string, _ int, assignees []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignees = append(f.assignees, assignees...)
	return nil
}

func (f *fakeForge) ListCollaborators(context.Context, int64, string, string) ([]github.Collaborator, error) {
	return f.collaborators, nil
}

type fakeFinder struct {
	items []similar.Item
	err   error
}

func (f fakeFinder) FindSimilar(context.Context, int64, string, string, string, int, similar.Kind) ([]similar.Item, error) {
	return f.items, f.err
}

type fakeResolver struct {
	terms []string
	url   string
}

func (r *fakeResolver) Resolve(_ context.Context, term string) (string, error) {
	r.terms = append(r.terms, term)
	if r.url == "" {
		return "", media.ErrNotFound
	}
	return r.url, nil
}

type fixedPicker int

func (p fixedPicker) Intn(int) int { return int(p) }

func newTestOrchestrator(t *testing.T, forge *fakeForge, finder SimilarFinder, resolver media.Resolver) *Orchestrator {
	t.Helper()
	o, err := New(Config{}, forge, finder, labeler.MustDefault(), resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	o.SetPicker(rand.New(rand.NewSource(1)))
	return o
}

func issueTarget(title, body string) Target {
	return Target{InstallationID: 1, Owner: "octo", Repo: "alpha", Number: 12, Kind: similar.KindIssue, Title: title, Body: body, Author: "mona"}
}

func TestIssueOpenedWithoutSimilarPostsOnlyWelcome(t *testing.T) {
	forge := &fakeForge{}
	o := newTestOrchestrator(t, forge, fakeFinder{items: []similar.Item{}}, &fakeResolver{url: "https://media.example/w.gif"})

	res, err := o.Handle(context.Background(), event.IssueOpened, issueTarget("Hello there", "just saying hi"))
	require.NoError(t, err)

	require.Len(t, forge.comments, 1)
	assert.Contains(t, forge.comments[0].body, "Thanks for opening this issue, @mona")
	assert.Contains(t, forge.comments[0].body, `<img src="https://media.example/w.gif"`)
	assert.Empty(t, forge.labels)
	assert.Empty(t, forge.assignees)
	assert.True(t, res.Commented)
}

func TestIssueOpenedWithSimilarPostsOnlySimilarity(t *testing.T) {
	forge := &fakeForge{}
	finder := fakeFinder{items: []similar.Item{{Number: 3, Title: "Greeting broken"}, {Number: 4, Title: "Hello fails"}}}
	o := newTestOrchestrator(t, forge, finder, &fakeResolver{})

	_, err := o.Handle(context.Background(), event.IssueOpened, issueTarget("Hello there", "nothing to label"))
	require.NoError(t, err)

	require.Len(t, forge.comments, 1)
	body := forge.comments[0].body
	assert.Contains(t, body, "#3 Greeting broken")
	assert.Contains(t, body, "#4 Hello fails")
	assert.NotContains(t, body, "Thanks for opening")
	assert.NotContains(t, body, "<img")
}

func TestIssueOpenedWithSimilarStillLabelsIssue(t *testing.T) {
	forge := &fakeForge{collaborators: []github.Collaborator{
		{Login: "reader", Permissions: github.Permissions{Pull: true}},
		{Login: "maint", Permissions: github.Permissions{Push: true}},
		{Login: "owner", Permissions: github.Permissions{Admin: true}},
	}}
	finder := fakeFinder{items: []similar.Item{{Number: 3, Title: "Crash"}}}
	o := newTestOrchestrator(t, forge, finder, &fakeResolver{})

	res, err := o.Handle(context.Background(), event.IssueOpened, issueTarget("Crash: a bug", "found by a beginner"))
	require.NoError(t, err)

	require.Len(t, forge.comments, 1)
	assert.Contains(t, forge.comments[0].body, "#3 Crash")
	require.Len(t, forge.labels, 1)
	assert.Equal(t, []string{"bug", "good first issue"}, forge.labels[0])
	assert.Equal(t, []string{"maint"}, forge.assignees)
	assert.Equal(t, "maint", res.Assignee)
}

func TestPullRequestWithSimilarIsNotLabelled(t *testing.T) {
	forge := &fakeForge{}
	finder := fakeFinder{items: []similar.Item{{Number: 3, Title: "Fix crash"}}}
	o := newTestOrchestrator(t, forge, finder, &fakeResolver{})

	tgt := issueTarget("Fix crash bug", "")
	tgt.Kind = similar.KindPullRequest
	_, err := o.Handle(context.Background(), event.PullRequestOpened, tgt)
	require.NoError(t, err)

	require.Len(t, forge.comments, 1)
	assert.Contains(t, forge.comments[0].body, "this pull request looks similar")
	assert.Empty(t, forge.labels)
}

func TestFailedSearchFallsBackToLabelsAndWelcome(t *testing.T) {
	forge := &fakeForge{}
	o := newTestOrchestrator(t, forge, fakeFinder{err: errors.New("403")}, &fakeResolver{})

	res, err := o.Handle(context.Background(), event.IssueOpened, issueTarget("Docs typo", ""))
	require.NoError(t, err)

	require.Len(t, forge.comments, 1)
	assert.Contains(t, forge.comments[0].body, "Thanks for opening")
	assert.Equal(t, [][]string{{"documentation"}}, forge.labels)
	assert.Empty(t, forge.assignees, "no collaborator has push access")
	assert.Empty(t, res.Assignee)
}

func TestFailedStepDoesNotStopOthers(t *testing.T) {
	forge := &fakeForge{labelErr: errors.New("label boom")}
	o := newTestOrchestrator(t, forge, fakeFinder{items: []similar.Item{}}, &fakeResolver{})

	_, err := o.Handle(context.Background(), event.IssueOpened, issueTarget("bug report", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label boom")
	assert.Len(t, forge.comments, 1, "welcome still posted")
}

func TestCommentFailureIsReturned(t *testing.T) {
	forge := &fakeForge{commentErr: &github.APIError{Operation: "create issue comment", StatusCode: 403}}
	o := newTestOrchestrator(t, forge, fakeFinder{}, &fakeResolver{})

	_, err := o.Handle(context.Background(), event.Approved, issueTarget("", ""))
	require.Error(t, err)
	var apiErr *github.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestDeploymentSuccessRoundTrip(t *testing.T) {
	p, err := event.Parse([]byte(`{
		"installation":{"id":5},
		"repository":{"name":"alpha","full_name":"octo/alpha","owner":{"login":"octo"}},
		"deployment_status":{"state":"success","environment":"production"},
		"deployment":{"sha":"deadbeef","environment":"production"}
	}`))
	require.NoError(t, err)

	keys := event.Classify("deployment_status", p)
	require.Equal(t, []event.ActionKey{event.Deployed}, keys)

	forge := &fakeForge{}
	o := newTestOrchestrator(t, forge, fakeFinder{}, &fakeResolver{url: "https://media.example/party.gif"})
	for _, k := range keys {
		_, err := o.Handle(context.Background(), k, TargetFrom(p))
		require.NoError(t, err)
	}

	require.Len(t, forge.comments, 1)
	c := forge.comments[0]
	assert.Equal(t, "deadbeef", c.sha)
	assert.Contains(t, strings.ToLower(c.body), "successful")
	assert.Contains(t, c.body, "https://media.example/party.gif")
	assert.Contains(t, c.body, "`production`")
}

func TestBranchUpdated(t *testing.T) {
	forge := &fakeForge{}
	o := newTestOrchestrator(t, forge, fakeFinder{}, &fakeResolver{})

	_, err := o.Handle(context.Background(), event.BranchUpdated, Target{Owner: "o", Repo: "r", SHA: "abc", Branch: "main", BranchPresent: true})
	require.NoError(t, err)
	_, err = o.Handle(context.Background(), event.BranchUpdated, Target{Owner: "o", Repo: "r", SHA: "abc"})
	require.NoError(t, err)

	require.Len(t, forge.comments, 2)
	assert.Contains(t, forge.comments[0].body, "Branch `main` was updated")
	assert.Contains(t, forge.comments[1].body, "without a branch reference")
}

func TestKeysWithoutPipelineAreNoOps(t *testing.T) {
	forge := &fakeForge{}
	resolver := &fakeResolver{url: "u"}
	o := newTestOrchestrator(t, forge, fakeFinder{}, resolver)

	for _, k := range []event.ActionKey{event.ForcePushDetected, event.FeatureBranchUpdated, event.DeploymentFailed, event.DeploymentUnknownStatus, event.IssueReopened} {
		res, err := o.Handle(context.Background(), k, issueTarget("bug", ""))
		require.NoError(t, err)
		assert.True(t, res.Skipped, k)
	}
	assert.Empty(t, forge.comments)
	assert.Empty(t, resolver.terms, "no media lookup for no-op keys")
}

func TestEveryPipelineKeyHasTopicAndTemplate(t *testing.T) {
	idx := indexTopics(DefaultTopics)
	for _, k := range event.AllActionKeys {
		if !HasPipeline(k) {
			continue
		}
		assert.NotEmpty(t, idx[k], "topic for %q", k)
		if k == event.PullRequestOpened || k == event.IssueOpened {
			continue
		}
		assert.Contains(t, DefaultTemplates, string(k))
	}
}

func TestTermSelectionUsesPicker(t *testing.T) {
	resolver := &fakeResolver{}
	o := newTestOrchestrator(t, &fakeForge{}, fakeFinder{}, resolver)
	o.SetPicker(fixedPicker(1))

	_, err := o.Handle(context.Background(), event.MergeConflict, issueTarget("", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"oops"}, resolver.terms)
}

func TestMissingTopicSkipsMedia(t *testing.T) {
	forge := &fakeForge{}
	resolver := &fakeResolver{url: "u"}
	o, err := New(Config{Topics: []TopicEntry{}}, forge, fakeFinder{}, labeler.MustDefault(), resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = o.Handle(context.Background(), event.Approved, issueTarget("", ""))
	require.NoError(t, err)
	assert.Empty(t, resolver.terms)
	require.Len(t, forge.comments, 1)
	assert.NotContains(t, forge.comments[0].body, "<img")
}

func TestNoTargetIsSkipped(t *testing.T) {
	forge := &fakeForge{}
	o := newTestOrchestrator(t, forge, fakeFinder{}, &fakeResolver{})

	res, err := o.Handle(context.Background(), event.CodeStyle, Target{Owner: "o", Repo: "r"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, forge.comments)
}

func TestTemplateOverrides(t *testing.T) {
	forge := &fakeForge{}
	o, err := New(Config{Templates: map[string]string{string(event.Approved): "LGTM from the bot"}},
		forge, fakeFinder{}, labeler.MustDefault(), &fakeResolver{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = o.Handle(context.Background(), event.Approved, issueTarget("", ""))
	require.NoError(t, err)
	assert.Equal(t, "LGTM from the bot", forge.comments[0].body)

	_, err = New(Config{Templates: map[string]string{"welcome": "{{.Broken"}}, forge, fakeFinder{}, labeler.MustDefault(), &fakeResolver{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestTargetFrom(t *testing.T) {
	p, err := event.Parse([]byte(`{
		"installation":{"id":9},
		"repository":{"full_name":"octo/alpha"},
		"sender":{"login":"someone"},
		"issue":{"number":4,"title":"T","body":"B","user":{"login":"author"},"pull_request":{}}
	}`))
	require.NoError(t, err)

	tgt := TargetFrom(p)
	assert.Equal(t, int64(9), tgt.InstallationID)
	assert.Equal(t, "octo", tgt.Owner)
	assert.Equal(t, "alpha", tgt.Repo)
	assert.Equal(t, 4, tgt.Number)
	assert.Equal(t, similar.KindPullRequest, tgt.Kind)
	assert.Equal(t, "author", tgt.Author)
}
