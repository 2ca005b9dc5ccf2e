package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the read-only projection of a GitHub webhook body. Only the
// fields some handler needs are decoded; everything else is dropped.
type Payload struct {
	Action       string        `json:"action"`
	Installation *Installation `json:"installation"`
	Repository   *Repository   `json:"repository"`
	Sender       User          `json:"sender"`

	Issue       *Issue       `json:"issue"`
	PullRequest *PullRequest `json:"pull_request"`
	Comment     *Comment     `json:"comment"`
	Review      *Review      `json:"review"`

	// Push
	Ref    *string `json:"ref"`
	After  string  `json:"after"`
	Forced bool    `json:"forced"`

	DeploymentStatus *DeploymentStatus `json:"deployment_status"`
	Deployment       *Deployment       `json:"deployment"`
	CheckRun         *CheckRun         `json:"check_run"`
	CheckSuite       *CheckSuite       `json:"check_suite"`

	// installation / installation_repositories
	Repositories        []InstallationRepo `json:"repositories"`
	RepositoriesAdded   []InstallationRepo `json:"repositories_added"`
	RepositoriesRemoved []InstallationRepo `json:"repositories_removed"`
}

type Installation struct {
	ID int64 `json:"id"`
}

type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    User   `json:"owner"`
}

type InstallationRepo struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

type User struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// IsBot reports whether the account is an app or bot user.
func (u User) IsBot() bool {
	return u.Type == "Bot" || strings.HasSuffix(u.Login, "[bot]")
}

type Issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	User    User   `json:"user"`
	// PullRequest is non-nil when the issue is a pull request.
	PullRequest *struct{} `json:"pull_request"`
}

type PullRequest struct {
	Number         int    `json:"number"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Merged         bool   `json:"merged"`
	MergeableState string `json:"mergeable_state"`
	HTMLURL        string `json:"html_url"`
	User           User   `json:"user"`
	Head           struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
}

type Comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
	User User   `json:"user"`
}

type Review struct {
	State string `json:"state"`
	User  User   `json:"user"`
}

type DeploymentStatus struct {
	State       string `json:"state"`
	Environment string `json:"environment"`
	TargetURL   string `json:"target_url"`
}

type Deployment struct {
	ID          int64  `json:"id"`
	SHA         string `json:"sha"`
	Ref         string `json:"ref"`
	Environment string `json:"environment"`
}

type CheckPullRequest struct {
	Number int `json:"number"`
}

type CheckRun struct {
	Name         string             `json:"name"`
	Conclusion   *string            `json:"conclusion"`
	HeadSHA      string             `json:"head_sha"`
	PullRequests []CheckPullRequest `json:"pull_requests"`
}

type CheckSuite struct {
	Conclusion   *string            `json:"conclusion"`
	HeadSHA      string             `json:"head_sha"`
	HeadBranch   string             `json:"head_branch"`
	PullRequests []CheckPullRequest `json:"pull_requests"`
	App          struct {
		Name string `json:"name"`
	} `json:"app"`
}

// Parse decodes a webhook body.
func Parse(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	return &p, nil
}

// InstallationID returns the installation the delivery belongs to, or 0.
func (p *Payload) InstallationID() int64 {
	if p.Installation == nil {
		return 0
	}
	return p.Installation.ID
}

// RepoFullName returns "owner/name" of the originating repository.
func (p *Payload) RepoFullName() string {
	if p.Repository == nil {
		return ""
	}
	return p.Repository.FullName
}

// OwnerRepo splits the repository into owner and name.
func (p *Payload) OwnerRepo() (string, string) {
	if p.Repository == nil {
		return "", ""
	}
	if p.Repository.Owner.Login != "" && p.Repository.Name != "" {
		return p.Repository.Owner.Login, p.Repository.Name
	}
	owner, name, _ := strings.Cut(p.Repository.FullName, "/")
	return owner, name
}

// Branch returns the branch name from the push ref and whether the ref was
// present at all.
func (p *Payload) Branch() (string, bool) {
	if p.Ref == nil || *p.Ref == "" {
		return "", false
	}
	return strings.TrimPrefix(*p.Ref, "refs/heads/"), true
}

// Number returns the issue or pull request number the event is about, or 0.
func (p *Payload) Number() int {
	switch {
	case p.PullRequest != nil:
		return p.PullRequest.Number
	case p.Issue != nil:
		return p.Issue.Number
	case p.CheckRun != nil && len(p.CheckRun.PullRequests) > 0:
		return p.CheckRun.PullRequests[0].Number
	case p.CheckSuite != nil && len(p.CheckSuite.PullRequests) > 0:
		return p.CheckSuite.PullRequests[0].Number
	}
	return 0
}

// HeadSHA returns the commit the event is about, used when there is no
// issue or pull request to comment on.
func (p *Payload) HeadSHA() string {
	switch {
	case p.Deployment != nil && p.Deployment.SHA != "":
		return p.Deployment.SHA
	case p.CheckRun != nil && p.CheckRun.HeadSHA != "":
		return p.CheckRun.HeadSHA
	case p.CheckSuite != nil && p.CheckSuite.HeadSHA != "":
		return p.CheckSuite.HeadSHA
	case p.PullRequest != nil && p.PullRequest.Head.SHA != "":
		return p.PullRequest.Head.SHA
	}
	if p.After != "" && strings.Trim(p.After, "0") != "" {
		return p.After
	}
	return ""
}

// TitleBody returns the text of the issue or pull request, if any.
func (p *Payload) TitleBody() (string, string) {
	switch {
	case p.PullRequest != nil:
		return p.PullRequest.Title, p.PullRequest.Body
	case p.Issue != nil:
		return p.Issue.Title, p.Issue.Body
	}
	return "", ""
}
