// Package respond turns action keys into side effects on the forge:
// comments with embedded media, labels and maintainer assignment.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/github"
	"github.com/hookbot/hookbot/internal/media"
	"github.com/hookbot/hookbot/internal/similar"
)

// Forge is the set of forge calls the pipelines make.
type Forge interface {
	CreateIssueComment(ctx context.Context, installationID int64, owner, repo string, number int, body string) (*github.Comment, error)
	CreateCommitComment(ctx context.Context, installationID int64, owner, repo, sha, body string) (*github.Comment, error)
	AddLabels(ctx context.Context, installationID int64, owner, repo string, number int, labels []string) error
	AddAssignees(ctx context.Context, installationID int64, owner, repo string, number int, assignees []string) error
	ListCollaborators(ctx context.Context, installationID int64, owner, repo string) ([]github.Collaborator, error)
}

type SimilarFinder interface {
	FindSimilar(ctx context.Context, installationID int64, owner, repo, title string, excludeNumber int, kind similar.Kind) ([]similar.Item, error)
}

type Labeler interface {
	LabelsFor(title, body string) []string
}

type Config struct {
	Topics      []TopicEntry
	Templates   map[string]string
	ImageWidth  int
	ImageHeight int
}

// Result records what a pipeline did. Skipped is set for keys without a
// pipeline and for comments with nowhere to go.
type Result struct {
	Commented bool     `json:"commented"`
	Labels    []string `json:"labels,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
}

type Orchestrator struct {
	forge   Forge
	similar SimilarFinder
	labeler Labeler
	media   media.Resolver
	picker  Picker
	topics  topicIndex
	render  *renderer
	logger  *slog.Logger
}

func New(cfg Config, forge Forge, finder SimilarFinder, labeler Labeler, resolver media.Resolver, logger *slog.Logger) (*Orchestrator, error) {
	if cfg.Topics == nil {
		cfg.Topics = DefaultTopics
	}
	if cfg.ImageWidth <= 0 {
		cfg.ImageWidth = 480
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = 270
	}
	r, err := newRenderer(cfg.Templates, cfg.ImageWidth, cfg.ImageHeight)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		forge:   forge,
		similar: finder,
		labeler: labeler,
		media:   resolver,
		picker:  globalPicker{},
		topics:  indexTopics(cfg.Topics),
		render:  r,
		logger:  logger,
	}, nil
}

// SetPicker replaces the term picker, e.g. with a seeded *rand.Rand.
func (o *Orchestrator) SetPicker(p Picker) {
	o.picker = p
}

// fixedTemplate lists the keys answered by a single templated comment.
var fixedTemplate = map[event.ActionKey]bool{
	event.MergeSuccessful:    true,
	event.MergeConflict:      true,
	event.Approved:           true,
	event.IssueResolved:      true,
	event.Deployed:           true,
	event.DeploymentCanceled: true,
	event.CodeStyle:          true,
}

// HasPipeline reports whether Handle does anything for key.
func HasPipeline(key event.ActionKey) bool {
	switch key {
	case event.PullRequestOpened, event.IssueOpened, event.BranchUpdated:
		return true
	}
	return fixedTemplate[key]
}

// Handle runs the pipeline for one action key. Steps are independent: a
// failed step is recorded and the rest still run. The returned error joins
// every step failure.
func (o *Orchestrator) Handle(ctx context.Context, key event.ActionKey, t Target) (Result, error) {
	if !HasPipeline(key) {
		return Result{Skipped: true}, nil
	}

	data := commentData{
		Author:      t.Author,
		Kind:        t.kindName(),
		Number:      t.Number,
		Title:       t.Title,
		Branch:      t.Branch,
		Environment: t.Environment,
		TargetURL:   t.TargetURL,
		Media:       o.resolveMedia(ctx, key),
	}

	switch key {
	case event.PullRequestOpened, event.IssueOpened:
		return o.opened(ctx, t, data)
	case event.BranchUpdated:
		name := string(event.BranchUpdated)
		if !t.BranchPresent {
			name = TemplateBranchMissing
		}
		return o.comment(ctx, t, name, data)
	default:
		return o.comment(ctx, t, string(key), data)
	}
}

func (o *Orchestrator) resolveMedia(ctx context.Context, key event.ActionKey) string {
	term := o.topics.term(key, o.picker)
	if term == "" {
		return ""
	}
	url, err := o.media.Resolve(ctx, term)
	if err != nil {
		if !errors.Is(err, media.ErrNotFound) {
			o.logger.Warn("media lookup failed", "action", string(key), "term", term, "err", err)
		}
		return ""
	}
	return o.render.mediaBlock(url, term)
}

// opened handles a new issue or pull request. A similarity comment replaces
// the welcome comment; keyword labeling runs for issues either way and for
// pull requests only when nothing similar was found.
func (o *Orchestrator) opened(ctx context.Context, t Target, data commentData) (Result, error) {
	var res Result
	var errs []error

	items, err := o.similar.FindSimilar(ctx, t.InstallationID, t.Owner, t.Repo, t.Title, t.Number, t.Kind)
	if err != nil {
		o.logger.Warn("similar search failed", "repo", t.Owner+"/"+t.Repo, "number", t.Number, "err", err)
		items = nil
	}

	if len(items) > 0 {
		data.Items = items
		r, err := o.comment(ctx, t, TemplateSimilar, data)
		res.Commented = r.Commented
		errs = append(errs, err)
		if t.Kind == similar.KindIssue {
			errs = append(errs, o.autolabel(ctx, t, &res))
		}
		return res, errors.Join(errs...)
	}

	errs = append(errs, o.autolabel(ctx, t, &res))
	r, err := o.comment(ctx, t, TemplateWelcome, data)
	res.Commented = r.Commented
	res.Skipped = r.Skipped
	errs = append(errs, err)
	return res, errors.Join(errs...)
}

// autolabel applies the keyword labels in one call and assigns the first
// collaborator with admin or push permission. No labels means no
// assignment either.
func (o *Orchestrator) autolabel(ctx context.Context, t Target, res *Result) error {
	labels := o.labeler.LabelsFor(t.Title, t.Body)
	if len(labels) == 0 || t.Number == 0 {
		return nil
	}

	if err := o.forge.AddLabels(ctx, t.InstallationID, t.Owner, t.Repo, t.Number, labels); err != nil {
		return fmt.Errorf("add labels: %w", err)
	}
	res.Labels = labels

	collaborators, err := o.forge.ListCollaborators(ctx, t.InstallationID, t.Owner, t.Repo)
	if err != nil {
		return fmt.Errorf("list collaborators: %w", err)
	}
	maintainer := firstMaintainer(collaborators)
	if maintainer == "" {
		o.logger.Info("no maintainer to assign", "repo", t.Owner+"/"+t.Repo, "number", t.Number)
		return nil
	}
	if err := o.forge.AddAssignees(ctx, t.InstallationID, t.Owner, t.Repo, t.Number, []string{maintainer}); err != nil {
		return fmt.Errorf("assign %s: %w", maintainer, err)
	}
	res.Assignee = maintainer
	return nil
}

func firstMaintainer(collaborators []github.Collaborator) string {
	for _, c := range collaborators {
		if c.Permissions.Admin || c.Permissions.Push {
			return c.Login
		}
	}
	return ""
}

// comment renders name and posts it on the issue or pull request, falling
// back to a commit comment when the event has no number.
func (o *Orchestrator) comment(ctx context.Context, t Target, name string, data commentData) (Result, error) {
	body, err := o.render.render(name, data)
	if err != nil {
		return Result{}, err
	}

	switch {
	case t.Number > 0:
		_, err = o.forge.CreateIssueComment(ctx, t.InstallationID, t.Owner, t.Repo, t.Number, body)
	case t.SHA != "":
		_, err = o.forge.CreateCommitComment(ctx, t.InstallationID, t.Owner, t.Repo, t.SHA, body)
	default:
		o.logger.Info("no comment target", "template", name, "repo", t.Owner+"/"+t.Repo)
		return Result{Skipped: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("post %s comment: %w", name, err)
	}
	return Result{Commented: true}, nil
}
