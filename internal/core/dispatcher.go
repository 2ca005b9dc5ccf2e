package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/registry"
	"github.com/hookbot/hookbot/internal/respond"
	"github.com/hookbot/hookbot/internal/telemetry"
)

// Delivery statuses recorded in metrics and the audit trail.
const (
	StatusOK        = "ok"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusNoAction  = "no_action"
	StatusIgnored   = "ignored"
	StatusSuspended = "suspended"
	StatusRegistry  = "registry"
)

// Handler runs the response pipeline for one action key.
type Handler interface {
	Handle(ctx context.Context, key event.ActionKey, t respond.Target) (respond.Result, error)
}

// RepoLister fills in an installation's repositories on first sight.
type RepoLister interface {
	ListInstallationRepos(ctx context.Context, installationID int64) ([]registry.Repository, error)
}

// TokenForgetter drops cached credentials for a deleted installation.
type TokenForgetter interface {
	ForgetToken(installationID int64)
}

// Delivery is one inbound webhook.
type Delivery struct {
	ID         string
	Event      string
	Body       []byte
	ReceivedAt time.Time
}

// ActionOutcome is the result of one action key.
type ActionOutcome struct {
	Key    event.ActionKey
	Result respond.Result
	Err    error
}

// Outcome summarizes a handled delivery.
type Outcome struct {
	DeliveryID string
	Status     string
	Actions    []ActionOutcome
}

type Dispatcher struct {
	registry *registry.Registry
	repos    RepoLister
	tokens   TokenForgetter
	handler  Handler
	policy   *Policy
	audit    *AuditService
	logger   *slog.Logger
	now      func() time.Time
}

type DispatcherDeps struct {
	Registry *registry.Registry
	Repos    RepoLister
	Tokens   TokenForgetter
	Handler  Handler
	Policy   *Policy
	Audit    *AuditService
	Logger   *slog.Logger
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	policy := deps.Policy
	if policy == nil {
		policy = NewPolicy("", "")
	}
	return &Dispatcher{
		registry: deps.Registry,
		repos:    deps.Repos,
		tokens:   deps.Tokens,
		handler:  deps.Handler,
		policy:   policy,
		audit:    deps.Audit,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// ParseDelivery decodes the payload and rejects deliveries without an
// installation id. It runs before the delivery is accepted.
func ParseDelivery(body []byte) (*event.Payload, error) {
	p, err := event.Parse(body)
	if err != nil {
		return nil, err
	}
	if p.InstallationID() == 0 {
		return nil, ErrMissingInstallation
	}
	return p, nil
}

// Dispatch handles one accepted delivery end to end. It never panics on
// forge failures; every step error is logged, counted and audited.
func (d *Dispatcher) Dispatch(ctx context.Context, del Delivery, p *event.Payload) Outcome {
	start := d.now()
	if del.ID == "" {
		del.ID = uuid.New().String()
	}
	if del.ReceivedAt.IsZero() {
		del.ReceivedAt = start
	}
	log := d.logger.With("delivery_id", del.ID, "event", del.Event, "installation_id", p.InstallationID())

	out := Outcome{DeliveryID: del.ID}
	out.Status, out.Actions = d.route(ctx, log, del, p)

	elapsed := d.now().Sub(start)
	telemetry.IncDelivery(del.Event, out.Status)
	telemetry.ObserveDispatchDuration(del.Event, elapsed)
	d.record(ctx, log, del, p, out, elapsed)

	log.Info("delivery handled", "status", out.Status, "actions", len(out.Actions), "duration_ms", elapsed.Milliseconds())
	return out
}

func (d *Dispatcher) route(ctx context.Context, log *slog.Logger, del Delivery, p *event.Payload) (string, []ActionOutcome) {
	id := p.InstallationID()

	switch del.Event {
	case event.EventInstallation:
		d.applyInstallation(log, p)
		return StatusRegistry, nil
	case event.EventInstallationRepositories:
		d.applyInstallationRepositories(log, p)
		return StatusRegistry, nil
	}

	if err := d.policy.CheckRepo(p.RepoFullName()); err != nil {
		log.Info("delivery ignored", "reason", MapError(err).Code, "repo", p.RepoFullName())
		return StatusIgnored, nil
	}
	if err := d.policy.CheckSender(p.Sender.Login); err != nil {
		log.Info("delivery ignored", "reason", MapError(err).Code, "sender", p.Sender.Login)
		return StatusIgnored, nil
	}

	inst, known := d.registry.Get(id)
	if known && inst.Suspended {
		log.Info("installation suspended, skipping delivery")
		return StatusSuspended, nil
	}
	if !known {
		d.fillInstallation(ctx, log, id)
	}

	keys := event.Classify(del.Event, p)
	if len(keys) == 0 {
		return StatusNoAction, nil
	}

	target := respond.TargetFrom(p)
	actions := make([]ActionOutcome, 0, len(keys))
	failed := 0
	for _, key := range keys {
		if key == event.DeploymentUnknownStatus && p.DeploymentStatus != nil {
			log.Info("unrecognized deployment state", "state", p.DeploymentStatus.State)
		}

		res, err := d.handler.Handle(ctx, key, target)
		status := actionStatus(res, err)
		telemetry.IncAction(string(key), status)
		if err != nil {
			failed++
			info := MapError(err)
			log.Error("action failed", "action", string(key), "code", info.Code, "err", err)
		}
		actions = append(actions, ActionOutcome{Key: key, Result: res, Err: err})
	}

	switch {
	case failed == 0:
		return StatusOK, actions
	case failed == len(actions):
		return StatusFailed, actions
	default:
		return StatusPartial, actions
	}
}

func actionStatus(res respond.Result, err error) string {
	switch {
	case err != nil:
		return "fail"
	case res.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}

// fillInstallation populates an installation seen before the registry knew
// it, e.g. after a restart. Failure only costs the cache entry.
func (d *Dispatcher) fillInstallation(ctx context.Context, log *slog.Logger, id int64) {
	if d.repos == nil {
		return
	}
	repos, err := d.repos.ListInstallationRepos(ctx, id)
	if err != nil {
		log.Warn("list installation repos failed", "code", MapError(err).Code, "err", err)
		return
	}
	d.registry.Upsert(id, repos)
}

func (d *Dispatcher) applyInstallation(log *slog.Logger, p *event.Payload) {
	id := p.InstallationID()
	switch p.Action {
	case "created":
		d.registry.Put(registry.Installation{ID: id, Repositories: toRepos(p.Repositories)})
	case "deleted":
		d.registry.Remove(id)
		if d.tokens != nil {
			d.tokens.ForgetToken(id)
		}
	case "suspend":
		d.registry.SetSuspended(id, true)
	case "unsuspend":
		d.registry.SetSuspended(id, false)
	default:
		return
	}
	log.Info("installation updated", "action", p.Action)
}

func (d *Dispatcher) applyInstallationRepositories(log *slog.Logger, p *event.Payload) {
	id := p.InstallationID()
	if len(p.RepositoriesAdded) > 0 {
		d.registry.AddRepositories(id, toRepos(p.RepositoriesAdded))
	}
	if len(p.RepositoriesRemoved) > 0 {
		d.registry.RemoveRepositories(id, toRepos(p.RepositoriesRemoved))
	}
	log.Info("installation repositories updated", "added", len(p.RepositoriesAdded), "removed", len(p.RepositoriesRemoved))
}

func toRepos(in []event.InstallationRepo) []registry.Repository {
	out := make([]registry.Repository, 0, len(in))
	for _, r := range in {
		out = append(out, registry.Repository{ID: r.ID, FullName: r.FullName})
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, log *slog.Logger, del Delivery, p *event.Payload, out Outcome, elapsed time.Duration) {
	if !d.audit.Enabled() {
		return
	}

	in := RecordInput{
		DeliveryID:     del.ID,
		Event:          del.Event,
		Action:         p.Action,
		InstallationID: p.InstallationID(),
		Repo:           p.RepoFullName(),
		Status:         out.Status,
		Payload:        del.Body,
		Duration:       elapsed,
		ReceivedAt:     del.ReceivedAt,
	}
	for _, a := range out.Actions {
		rec := ActionRecord{Key: string(a.Key), Status: actionStatus(a.Result, a.Err)}
		if a.Err != nil {
			rec.ErrorCode = MapError(a.Err).Code
			if in.ErrorCode == "" {
				in.ErrorCode = rec.ErrorCode
			}
		}
		in.Actions = append(in.Actions, rec)
	}

	// Detached so a delivery that hit its deadline is still recorded.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := d.audit.Record(auditCtx, in); err != nil {
		log.Warn("audit record failed", "err", err)
	}
}
