// Package registry is the in-memory map of app installations to the
// repositories they grant and their suspended flag.
//
// It is a cache, not a system of record: GitHub owns installation state.
// After a restart the map is empty and is rebuilt by Rebuild (or lazily,
// one installation at a time) from the installation listing endpoints.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Repository identifies one repository granted to an installation.
type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// Installation is a snapshot. Mutating a returned value never affects the
// registry.
type Installation struct {
	ID           int64        `json:"id"`
	Repositories []Repository `json:"repositories"`
	Suspended    bool         `json:"suspended"`
}

type entry struct {
	repos     map[string]Repository
	suspended bool
}

// Registry is safe for concurrent use. Each mutation replaces one entry
// under the write lock, so readers see either the old or the new state of
// an installation, never a mix.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[int64]*entry)}
}

// Upsert sets the repository set for id, creating the installation if
// needed. An existing suspended flag is preserved.
func (r *Registry) Upsert(id int64, repos []Repository) {
	next := &entry{repos: indexRepos(repos)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[id]; ok {
		next.suspended = prev.suspended
	}
	r.entries[id] = next
}

// Put replaces the whole installation, repositories and flag together.
func (r *Registry) Put(inst Installation) {
	next := &entry{repos: indexRepos(inst.Repositories), suspended: inst.Suspended}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[inst.ID] = next
}

// Remove deletes id. Unknown ids are ignored.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// SetSuspended flips the lifecycle flag. Unknown ids are ignored.
func (r *Registry) SetSuspended(id int64, suspended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[id]
	if !ok {
		return
	}
	r.entries[id] = &entry{repos: prev.repos, suspended: suspended}
}

// AddRepositories merges repos into an installation's set, creating the
// installation if it is not known yet.
func (r *Registry) AddRepositories(id int64, repos []Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := &entry{repos: make(map[string]Repository)}
	if prev, ok := r.entries[id]; ok {
		next.suspended = prev.suspended
		for k, v := range prev.repos {
			next.repos[k] = v
		}
	}
	for _, repo := range repos {
		next.repos[repo.FullName] = repo
	}
	r.entries[id] = next
}

// RemoveRepositories drops repos from an installation's set. Unknown ids
// are ignored.
func (r *Registry) RemoveRepositories(id int64, repos []Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[id]
	if !ok {
		return
	}
	next := &entry{repos: make(map[string]Repository, len(prev.repos)), suspended: prev.suspended}
	for k, v := range prev.repos {
		next.repos[k] = v
	}
	for _, repo := range repos {
		delete(next.repos, repo.FullName)
	}
	r.entries[id] = next
}

// Get returns a copy of the installation and whether it is known.
func (r *Registry) Get(id int64) (Installation, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Installation{}, false
	}
	return e.snapshot(id), true
}

// Len reports the number of known installations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (e *entry) snapshot(id int64) Installation {
	repos := make([]Repository, 0, len(e.repos))
	for _, repo := range e.repos {
		repos = append(repos, repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].FullName < repos[j].FullName })
	return Installation{ID: id, Repositories: repos, Suspended: e.suspended}
}

func indexRepos(repos []Repository) map[string]Repository {
	m := make(map[string]Repository, len(repos))
	for _, repo := range repos {
		m[repo.FullName] = repo
	}
	return m
}

// Source lists installations and their repositories from the forge.
type Source interface {
	ListInstallations(ctx context.Context) ([]Installation, error)
	ListInstallationRepos(ctx context.Context, installationID int64) ([]Repository, error)
}

// PartialRebuildError lists installations whose repositories could not be
// listed during Rebuild. The rest were loaded.
type PartialRebuildError struct {
	Failed []int64
}

func (e *PartialRebuildError) Error() string {
	return fmt.Sprintf("list repositories failed for installations %v", e.Failed)
}

// Rebuild repopulates the registry from src. Suspended installations are
// recorded without listing their repositories, since the forge refuses
// them tokens. Installations that fail to list are skipped and reported in
// a *PartialRebuildError; the dispatcher fills them lazily later.
func (r *Registry) Rebuild(ctx context.Context, src Source) error {
	installs, err := src.ListInstallations(ctx)
	if err != nil {
		return fmt.Errorf("list installations: %w", err)
	}

	var failed []int64
	for _, inst := range installs {
		if inst.Suspended {
			r.Put(Installation{ID: inst.ID, Suspended: true})
			continue
		}
		repos, err := src.ListInstallationRepos(ctx, inst.ID)
		if err != nil {
			failed = append(failed, inst.ID)
			continue
		}
		r.Put(Installation{ID: inst.ID, Repositories: repos})
	}
	if len(failed) > 0 {
		return &PartialRebuildError{Failed: failed}
	}
	return nil
}

// Warm calls Rebuild until the installation listing succeeds, waiting retry
// between attempts. A partial pass counts as warm. It returns nil once warm,
// or ctx's error if cancelled first.
func (r *Registry) Warm(ctx context.Context, src Source, retry time.Duration, logger *slog.Logger) error {
	for attempt := 1; ; attempt++ {
		err := r.Rebuild(ctx, src)
		var partial *PartialRebuildError
		if errors.As(err, &partial) {
			logger.Warn("registry partially rebuilt", "failed_installations", partial.Failed)
			err = nil
		}
		if err == nil {
			logger.Info("registry warm", "installations", r.Len(), "attempts", attempt)
			return nil
		}
		logger.Warn("registry rebuild failed", "attempt", attempt, "retry_in", retry.String(), "err", err)

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
