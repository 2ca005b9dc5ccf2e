package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// CreateIssueComment comments on an issue or pull request.
func (c *Client) CreateIssueComment(ctx context.Context, installationID int64, owner, repo string, number int, body string) (*Comment, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, repo, number)
	var comment Comment
	if err := c.call(ctx, installationID, "create issue comment", http.MethodPost, u, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// CreateCommitComment comments on a commit. Used for events that carry no
// issue or pull request number.
func (c *Client) CreateCommitComment(ctx context.Context, installationID int64, owner, repo, sha, body string) (*Comment, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/commits/%s/comments", c.baseURL, owner, repo, url.PathEscape(sha))
	var comment Comment
	if err := c.call(ctx, installationID, "create commit comment", http.MethodPost, u, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// AddLabels applies all labels in one call.
func (c *Client) AddLabels(ctx context.Context, installationID int64, owner, repo string, number int, labels []string) error {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/%d/labels", c.baseURL, owner, repo, number)
	return c.call(ctx, installationID, "add labels", http.MethodPost, u, map[string][]string{"labels": labels}, nil)
}

func (c *Client) AddAssignees(ctx context.Context, installationID int64, owner, repo string, number int, assignees []string) error {
	u := fmt.Sprintf("%s/repos/%s/%s/issues/%d/assignees", c.baseURL, owner, repo, number)
	return c.call(ctx, installationID, "add assignees", http.MethodPost, u, map[string][]string{"assignees": assignees}, nil)
}

type Permissions struct {
	Admin    bool `json:"admin"`
	Maintain bool `json:"maintain"`
	Push     bool `json:"push"`
	Triage   bool `json:"triage"`
	Pull     bool `json:"pull"`
}

type Collaborator struct {
	Login       string      `json:"login"`
	Permissions Permissions `json:"permissions"`
}

// ListCollaborators returns collaborators in the API's listing order.
func (c *Client) ListCollaborators(ctx context.Context, installationID int64, owner, repo string) ([]Collaborator, error) {
	all := make([]Collaborator, 0)
	for page := 1; page <= 10; page++ {
		u := fmt.Sprintf("%s/repos/%s/%s/collaborators?per_page=100&page=%d", c.baseURL, owner, repo, page)
		var batch []Collaborator
		if err := c.call(ctx, installationID, "list collaborators", http.MethodGet, u, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			break
		}
	}
	return all, nil
}

type SearchItem struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	HTMLURL     string    `json:"html_url"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []SearchItem `json:"items"`
}

// SearchIssues runs an issue search query and returns one page of results
// in relevance order.
func (c *Client) SearchIssues(ctx context.Context, installationID int64, query string, perPage int) ([]SearchItem, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}
	u := fmt.Sprintf("%s/search/issues?q=%s&per_page=%d", c.baseURL, url.QueryEscape(query), perPage)
	var res searchResponse
	if err := c.call(ctx, installationID, "search issues", http.MethodGet, u, nil, &res); err != nil {
		return nil, err
	}
	if res.Items == nil {
		res.Items = []SearchItem{}
	}
	return res.Items, nil
}
