package respond

import (
	"math/rand"

	"github.com/hookbot/hookbot/internal/event"
)

// TopicEntry maps action keys to the media search terms used for them.
type TopicEntry struct {
	Keys  []event.ActionKey `yaml:"keys"`
	Terms []string          `yaml:"terms"`
}

var DefaultTopics = []TopicEntry{
	{Keys: []event.ActionKey{event.PullRequestOpened, event.IssueOpened}, Terms: []string{"welcome", "hello", "thank you"}},
	{Keys: []event.ActionKey{event.PullRequestReopened, event.IssueReopened}, Terms: []string{"back again", "here we go again"}},
	{Keys: []event.ActionKey{event.MergeSuccessful, event.Deployed}, Terms: []string{"celebrate", "success", "party"}},
	{Keys: []event.ActionKey{event.MergeConflict}, Terms: []string{"conflict", "oops", "uh oh"}},
	{Keys: []event.ActionKey{event.Approved}, Terms: []string{"approved", "thumbs up", "nice"}},
	{Keys: []event.ActionKey{event.IssueResolved}, Terms: []string{"fixed", "problem solved"}},
	{Keys: []event.ActionKey{event.BranchUpdated, event.FeatureBranchUpdated, event.HotfixBranchUpdated, event.ForcePushDetected}, Terms: []string{"update", "fresh", "push"}},
	{Keys: []event.ActionKey{event.DeploymentFailed, event.DeploymentCanceled, event.DeploymentTimedOut}, Terms: []string{"cancel", "fail", "nope"}},
	{Keys: []event.ActionKey{event.CodeStyle}, Terms: []string{"style", "clean", "tidy"}},
}

// Picker chooses an index in [0, n). *rand.Rand satisfies it, so tests can
// pass a seeded source.
type Picker interface {
	Intn(n int) int
}

// globalPicker uses the package-level source, which is safe for concurrent
// use unlike a *rand.Rand.
type globalPicker struct{}

func (globalPicker) Intn(n int) int { return rand.Intn(n) }

type topicIndex map[event.ActionKey][]string

func indexTopics(entries []TopicEntry) topicIndex {
	idx := make(topicIndex)
	for _, e := range entries {
		if len(e.Terms) == 0 {
			continue
		}
		for _, k := range e.Keys {
			if _, ok := idx[k]; !ok {
				idx[k] = e.Terms
			}
		}
	}
	return idx
}

// term picks one term for key uniformly, or "" when key has no topic.
func (idx topicIndex) term(key event.ActionKey, p Picker) string {
	terms := idx[key]
	if len(terms) == 0 {
		return ""
	}
	return terms[p.Intn(len(terms))]
}
