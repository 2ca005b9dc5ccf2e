package core

import (
	"fmt"
	"strings"
)

// Policy decides which deliveries are acted on, from comma-separated env
// vars: a repository allowlist and a list of senders to ignore.
type Policy struct {
	allowedRepos   map[string]bool
	ignoredSenders map[string]bool
}

// PolicyError is a delivery refused by policy. Code is one of
// repo_not_allowed or sender_ignored.
type PolicyError struct {
	Code string
	Msg  string
}

func (e *PolicyError) Error() string     { return e.Msg }
func (e *PolicyError) ErrorCode() string { return e.Code }

// NewPolicy creates a Policy. An empty repo allowlist allows every
// repository the app is installed on.
func NewPolicy(repoCSV, ignoredSendersCSV string) *Policy {
	return &Policy{
		allowedRepos:   parseCSV(repoCSV),
		ignoredSenders: parseCSV(strings.ToLower(ignoredSendersCSV)),
	}
}

// CheckRepo returns an error if repo is not in a non-empty allowlist.
func (p *Policy) CheckRepo(repo string) error {
	if len(p.allowedRepos) == 0 {
		return nil
	}
	if !p.allowedRepos[repo] {
		return &PolicyError{Code: "repo_not_allowed", Msg: fmt.Sprintf("repo %q not in allowlist", repo)}
	}
	return nil
}

// CheckSender returns an error if login is ignored. Matching is
// case-insensitive, as GitHub logins are.
func (p *Policy) CheckSender(login string) error {
	if p.ignoredSenders[strings.ToLower(login)] {
		return &PolicyError{Code: "sender_ignored", Msg: fmt.Sprintf("sender %q is ignored", login)}
	}
	return nil
}

func parseCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			m[item] = true
		}
	}
	return m
}
