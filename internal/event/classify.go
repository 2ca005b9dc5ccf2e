// Package event projects GitHub webhook payloads and classifies them into
// canonical action keys.
package event

import "strings"

// ActionKey is the semantic tag a delivery is reduced to.
type ActionKey string

const (
	PullRequestOpened       ActionKey = "pull request"
	PullRequestReopened     ActionKey = "pull request reopened"
	MergeSuccessful         ActionKey = "merge successful"
	MergeConflict           ActionKey = "merge conflict"
	Approved                ActionKey = "approved"
	BranchUpdated           ActionKey = "branch updated"
	ForcePushDetected       ActionKey = "force push detected"
	FeatureBranchUpdated    ActionKey = "feature branch updated"
	HotfixBranchUpdated     ActionKey = "hotfix branch updated"
	IssueOpened             ActionKey = "issue opened"
	IssueReopened           ActionKey = "reopened issue"
	IssueResolved           ActionKey = "issue resolved"
	Deployed                ActionKey = "deployed"
	DeploymentFailed        ActionKey = "deployment failed"
	DeploymentCanceled      ActionKey = "deployment canceled"
	DeploymentTimedOut      ActionKey = "deployment timed out"
	DeploymentUnknownStatus ActionKey = "deployment unknown status"
	CodeStyle               ActionKey = "code style"
)

// AllActionKeys is the closed vocabulary, in declaration order.
var AllActionKeys = []ActionKey{
	PullRequestOpened, PullRequestReopened, MergeSuccessful, MergeConflict, Approved,
	BranchUpdated, ForcePushDetected, FeatureBranchUpdated, HotfixBranchUpdated,
	IssueOpened, IssueReopened, IssueResolved,
	Deployed, DeploymentFailed, DeploymentCanceled, DeploymentTimedOut, DeploymentUnknownStatus,
	CodeStyle,
}

// Valid reports whether k belongs to the vocabulary.
func (k ActionKey) Valid() bool {
	for _, known := range AllActionKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Event names handled outside the action pipeline.
const (
	EventInstallation             = "installation"
	EventInstallationRepositories = "installation_repositories"
)

type rule struct {
	key  ActionKey
	when func(p *Payload) bool
}

// ruleSet is an ordered list of rules for one event type. With firstMatch
// only the first matching rule fires; otherwise every matching rule does.
type ruleSet struct {
	firstMatch bool
	rules      []rule
}

var rulesByEvent = map[string]ruleSet{
	"pull_request": {firstMatch: true, rules: []rule{
		{PullRequestOpened, action("opened")},
		{PullRequestReopened, action("reopened")},
		{MergeSuccessful, func(p *Payload) bool {
			return p.Action == "closed" && p.PullRequest != nil && p.PullRequest.Merged
		}},
		{MergeConflict, func(p *Payload) bool {
			return p.PullRequest != nil && p.PullRequest.MergeableState == "dirty"
		}},
		{Approved, action("approved")},
	}},
	"pull_request_review": {firstMatch: true, rules: []rule{
		{Approved, func(p *Payload) bool {
			return p.Action == "submitted" && p.Review != nil && strings.EqualFold(p.Review.State, "approved")
		}},
	}},
	"push": {rules: []rule{
		{BranchUpdated, func(p *Payload) bool {
			branch, ok := p.Branch()
			return isDefaultBranch(branch) || (!ok && !p.Forced)
		}},
		{ForcePushDetected, func(p *Payload) bool {
			return p.Forced && !onDefaultBranch(p)
		}},
		{FeatureBranchUpdated, branchPrefix("feature/")},
		{HotfixBranchUpdated, branchPrefix("hotfix/")},
	}},
	"issues": {firstMatch: true, rules: []rule{
		{IssueOpened, action("opened")},
		{IssueReopened, action("reopened")},
		{IssueResolved, action("closed")},
	}},
	"issue_comment": {rules: []rule{
		{IssueResolved, commentMentions("fix")},
		{Deployed, commentMentions("deploy")},
	}},
	"deployment_status": {firstMatch: true, rules: []rule{
		{Deployed, deploymentState("success")},
		{DeploymentFailed, deploymentState("failure", "error")},
		{DeploymentCanceled, deploymentState("cancelled", "canceled")},
		{DeploymentTimedOut, deploymentState("timed_out")},
		{DeploymentUnknownStatus, func(p *Payload) bool { return p.DeploymentStatus != nil }},
	}},
	"check_run":   checkRules,
	"check_suite": checkRules,
}

var checkRules = ruleSet{firstMatch: true, rules: []rule{
	{CodeStyle, checkResult("success", "lint")},
	{Deployed, checkResult("success", "deploy")},
	{CodeStyle, checkResult("failure", "")},
}}

// Classify maps a webhook to its action keys. It is pure and never fails:
// unknown event types and unrecognized shapes yield nil.
func Classify(eventType string, p *Payload) []ActionKey {
	if p == nil {
		return nil
	}
	set, ok := rulesByEvent[eventType]
	if !ok {
		return nil
	}

	var keys []ActionKey
	for _, r := range set.rules {
		if !r.when(p) {
			continue
		}
		keys = append(keys, r.key)
		if set.firstMatch {
			break
		}
	}
	return keys
}

func action(name string) func(*Payload) bool {
	return func(p *Payload) bool { return p.Action == name }
}

func isDefaultBranch(branch string) bool {
	return branch == "main" || branch == "master"
}

func onDefaultBranch(p *Payload) bool {
	branch, _ := p.Branch()
	return isDefaultBranch(branch)
}

func branchPrefix(prefix string) func(*Payload) bool {
	return func(p *Payload) bool {
		branch, ok := p.Branch()
		return ok && !isDefaultBranch(branch) && strings.HasPrefix(branch, prefix)
	}
}

// Bot comments are skipped so the bot never reacts to its own replies.
func commentMentions(word string) func(*Payload) bool {
	return func(p *Payload) bool {
		if p.Action != "created" || p.Comment == nil || p.Comment.User.IsBot() {
			return false
		}
		return strings.Contains(strings.ToLower(p.Comment.Body), word)
	}
}

func deploymentState(states ...string) func(*Payload) bool {
	return func(p *Payload) bool {
		if p.DeploymentStatus == nil {
			return false
		}
		for _, s := range states {
			if p.DeploymentStatus.State == s {
				return true
			}
		}
		return false
	}
}

func checkResult(conclusion, nameContains string) func(*Payload) bool {
	return func(p *Payload) bool {
		got, name, ok := checkConclusion(p)
		if !ok || got != conclusion {
			return false
		}
		return nameContains == "" || strings.Contains(strings.ToLower(name), nameContains)
	}
}

func checkConclusion(p *Payload) (conclusion, name string, ok bool) {
	switch {
	case p.CheckRun != nil && p.CheckRun.Conclusion != nil:
		return *p.CheckRun.Conclusion, p.CheckRun.Name, true
	case p.CheckSuite != nil && p.CheckSuite.Conclusion != nil:
		return *p.CheckSuite.Conclusion, p.CheckSuite.App.Name, true
	}
	return "", "", false
}
