package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hookbot/hookbot/internal/registry"
	"github.com/hookbot/hookbot/internal/telemetry"
)

type appInstallation struct {
	ID          int64      `json:"id"`
	SuspendedAt *time.Time `json:"suspended_at"`
}

// ListInstallations lists every installation of the app. Repositories are
// not filled in; see ListInstallationRepos.
func (c *Client) ListInstallations(ctx context.Context) ([]registry.Installation, error) {
	out := make([]registry.Installation, 0)
	for page := 1; page <= 10; page++ {
		u := fmt.Sprintf("%s/app/installations?per_page=100&page=%d", c.baseURL, page)
		resp, err := c.doApp(ctx, http.MethodGet, u)
		if err != nil {
			return nil, fmt.Errorf("list installations: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			telemetry.IncGitHubAPIError("list installations", resp.StatusCode)
			return nil, &APIError{Operation: "list installations", StatusCode: resp.StatusCode, Body: string(body)}
		}

		var batch []appInstallation
		err = json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode installations: %w", err)
		}

		for _, inst := range batch {
			out = append(out, registry.Installation{ID: inst.ID, Suspended: inst.SuspendedAt != nil})
		}
		if len(batch) < 100 {
			break
		}
	}
	return out, nil
}

type installationReposResponse struct {
	TotalCount   int                   `json:"total_count"`
	Repositories []registry.Repository `json:"repositories"`
}

// ListInstallationRepos lists the repositories the installation can access.
func (c *Client) ListInstallationRepos(ctx context.Context, installationID int64) ([]registry.Repository, error) {
	repos := make([]registry.Repository, 0)
	for page := 1; page <= 10; page++ {
		u := fmt.Sprintf("%s/installation/repositories?per_page=100&page=%d", c.baseURL, page)
		var res installationReposResponse
		if err := c.call(ctx, installationID, "list installation repos", http.MethodGet, u, nil, &res); err != nil {
			return nil, err
		}
		repos = append(repos, res.Repositories...)
		if len(res.Repositories) < 100 || len(repos) >= res.TotalCount {
			break
		}
	}
	return repos, nil
}
