package respond

import (
	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/similar"
)

// Target is everything the pipelines need from one delivery, projected once
// from the payload.
type Target struct {
	InstallationID int64
	Owner          string
	Repo           string

	// Number is the issue or pull request number; 0 when the event has none.
	Number int
	// SHA is the commit to comment on when Number is 0.
	SHA  string
	Kind similar.Kind

	Title  string
	Body   string
	Author string

	Branch        string
	BranchPresent bool

	Environment string
	TargetURL   string
}

// TargetFrom projects the fields the orchestrator reads from p.
func TargetFrom(p *event.Payload) Target {
	owner, repo := p.OwnerRepo()
	title, body := p.TitleBody()
	branch, ok := p.Branch()

	t := Target{
		InstallationID: p.InstallationID(),
		Owner:          owner,
		Repo:           repo,
		Number:         p.Number(),
		SHA:            p.HeadSHA(),
		Kind:           similar.KindIssue,
		Title:          title,
		Body:           body,
		Author:         p.Sender.Login,
		Branch:         branch,
		BranchPresent:  ok,
	}

	switch {
	case p.PullRequest != nil:
		t.Kind = similar.KindPullRequest
		if p.PullRequest.User.Login != "" {
			t.Author = p.PullRequest.User.Login
		}
	case p.Issue != nil:
		if p.Issue.PullRequest != nil {
			t.Kind = similar.KindPullRequest
		}
		if p.Issue.User.Login != "" {
			t.Author = p.Issue.User.Login
		}
	}

	if p.DeploymentStatus != nil {
		t.Environment = p.DeploymentStatus.Environment
		t.TargetURL = p.DeploymentStatus.TargetURL
	}
	if t.Environment == "" && p.Deployment != nil {
		t.Environment = p.Deployment.Environment
	}
	return t
}

func (t Target) kindName() string {
	if t.Kind == similar.KindPullRequest {
		return "pull request"
	}
	return "issue"
}
