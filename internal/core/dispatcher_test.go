package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/github"
	"github.com/hookbot/hookbot/internal/registry"
	"github.com/hookbot/hookbot/internal/respond"
)

type handledKey struct {
	key    event.ActionKey
	target respond.Target
}

type fakeHandler struct {
	mu      sync.Mutex
	handled []handledKey
	errs    map[event.ActionKey]error
}

func (h *fakeHandler) Handle(_ context.Context, key event.ActionKey, t respond.Target) (respond.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, handledKey{key: key, target: t})
	if err := h.errs[key]; err != nil {
		return respond.Result{}, err
	}
	return respond.Result{Commented: true}, nil
}

type fakeRepoLister struct {
	calls int
	repos []registry.Repository
	err   error
}

func (f *fakeRepoLister) ListInstallationRepos(context.Context, int64) ([]registry.Repository, error) {
	f.calls++
	return f.repos, f.err
}

type fakeTokens struct{ forgotten []int64 }

func (f *fakeTokens) ForgetToken(id int64) { f.forgotten = append(f.forgotten, id) }

type dispatchFixture struct {
	d       *Dispatcher
	reg     *registry.Registry
	handler *fakeHandler
	repos   *fakeRepoLister
	tokens  *fakeTokens
	audit   *memAuditStore
}

func newDispatchFixture(policy *Policy) *dispatchFixture {
	f := &dispatchFixture{
		reg:     registry.New(),
		handler: &fakeHandler{errs: map[event.ActionKey]error{}},
		repos:   &fakeRepoLister{repos: []registry.Repository{{ID: 1, FullName: "octo/alpha"}}},
		tokens:  &fakeTokens{},
		audit:   &memAuditStore{},
	}
	f.d = NewDispatcher(DispatcherDeps{
		Registry: f.reg,
		Repos:    f.repos,
		Tokens:   f.tokens,
		Handler:  f.handler,
		Policy:   policy,
		Audit:    NewAuditService(f.audit),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *dispatchFixture) dispatch(t *testing.T, eventType, body string) Outcome {
	t.Helper()
	p, err := ParseDelivery([]byte(body))
	require.NoError(t, err)
	return f.d.Dispatch(context.Background(), Delivery{ID: "d-1", Event: eventType, Body: []byte(body)}, p)
}

const issueOpened = `{
	"action":"opened",
	"installation":{"id":7},
	"repository":{"name":"alpha","full_name":"octo/alpha","owner":{"login":"octo"}},
	"sender":{"login":"mona"},
	"issue":{"number":3,"title":"crash","user":{"login":"mona"}}
}`

func TestParseDelivery(t *testing.T) {
	_, err := ParseDelivery([]byte(`{"action":"opened"}`))
	assert.ErrorIs(t, err, ErrMissingInstallation)

	_, err = ParseDelivery([]byte(`{`))
	require.Error(t, err)
	assert.Equal(t, "invalid_payload", MapError(err).Code)

	p, err := ParseDelivery([]byte(`{"installation":{"id":5}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.InstallationID())
}

func TestDispatchClassifiesAndHandles(t *testing.T) {
	f := newDispatchFixture(nil)
	f.reg.Upsert(7, nil)

	out := f.dispatch(t, "issues", issueOpened)
	assert.Equal(t, StatusOK, out.Status)
	require.Len(t, f.handler.handled, 1)
	h := f.handler.handled[0]
	assert.Equal(t, event.IssueOpened, h.key)
	assert.Equal(t, 3, h.target.Number)
	assert.Equal(t, "octo", h.target.Owner)
	assert.Zero(t, f.repos.calls, "known installation is not re-listed")

	require.Len(t, f.audit.deliveries, 1)
	assert.Equal(t, "d-1", f.audit.deliveries[0].DeliveryID)
	assert.Equal(t, StatusOK, f.audit.deliveries[0].Status)
	assert.Equal(t, "issue opened", f.audit.actions[0][0].ActionKey)
}

func TestDispatchLazilyFillsUnknownInstallation(t *testing.T) {
	f := newDispatchFixture(nil)

	f.dispatch(t, "issues", issueOpened)
	assert.Equal(t, 1, f.repos.calls)
	inst, ok := f.reg.Get(7)
	require.True(t, ok)
	assert.Equal(t, []registry.Repository{{ID: 1, FullName: "octo/alpha"}}, inst.Repositories)
	assert.Len(t, f.handler.handled, 1)
}

func TestDispatchContinuesWhenFillFails(t *testing.T) {
	f := newDispatchFixture(nil)
	f.repos.err = &github.APIError{StatusCode: 403}

	out := f.dispatch(t, "issues", issueOpened)
	assert.Equal(t, StatusOK, out.Status)
	_, ok := f.reg.Get(7)
	assert.False(t, ok)
	assert.Len(t, f.handler.handled, 1)
}

func TestDispatchSkipsSuspendedInstallation(t *testing.T) {
	f := newDispatchFixture(nil)
	f.reg.Upsert(7, nil)
	f.reg.SetSuspended(7, true)

	out := f.dispatch(t, "issues", issueOpened)
	assert.Equal(t, StatusSuspended, out.Status)
	assert.Empty(t, f.handler.handled)
}

func TestDispatchPolicy(t *testing.T) {
	f := newDispatchFixture(NewPolicy("octo/other", ""))
	f.reg.Upsert(7, nil)
	assert.Equal(t, StatusIgnored, f.dispatch(t, "issues", issueOpened).Status)

	f = newDispatchFixture(NewPolicy("", "MONA"))
	f.reg.Upsert(7, nil)
	assert.Equal(t, StatusIgnored, f.dispatch(t, "issues", issueOpened).Status)
	assert.Empty(t, f.handler.handled)
}

func TestDispatchNoAction(t *testing.T) {
	f := newDispatchFixture(nil)
	f.reg.Upsert(7, nil)

	out := f.dispatch(t, "issues", `{"action":"labeled","installation":{"id":7},"issue":{"number":1}}`)
	assert.Equal(t, StatusNoAction, out.Status)
	assert.Empty(t, out.Actions)
}

func TestDispatchPartialFailure(t *testing.T) {
	f := newDispatchFixture(nil)
	f.reg.Upsert(7, nil)
	f.handler.errs[event.Deployed] = errors.Join(errors.New("render"), &github.APIError{StatusCode: 404})

	body := `{"action":"created","installation":{"id":7},"issue":{"number":2},"comment":{"body":"fix and deploy","user":{"login":"mona"}}}`
	out := f.dispatch(t, "issue_comment", body)

	assert.Equal(t, StatusPartial, out.Status)
	require.Len(t, out.Actions, 2)
	assert.NoError(t, out.Actions[0].Err)
	assert.Error(t, out.Actions[1].Err)

	del := f.audit.deliveries[0]
	require.NotNil(t, del.ErrorCode)
	assert.Equal(t, "github_not_found", *del.ErrorCode)
	assert.Equal(t, "fail", f.audit.actions[0][1].Status)
}

func TestDispatchAllFailed(t *testing.T) {
	f := newDispatchFixture(nil)
	f.reg.Upsert(7, nil)
	f.handler.errs[event.IssueOpened] = errors.New("boom")

	assert.Equal(t, StatusFailed, f.dispatch(t, "issues", issueOpened).Status)
}

func TestDispatchInstallationLifecycle(t *testing.T) {
	f := newDispatchFixture(nil)

	f.dispatch(t, event.EventInstallation, `{"action":"created","installation":{"id":9},"repositories":[{"id":1,"full_name":"octo/a"},{"id":2,"full_name":"octo/b"}]}`)
	inst, ok := f.reg.Get(9)
	require.True(t, ok)
	assert.Len(t, inst.Repositories, 2)

	out := f.dispatch(t, event.EventInstallation, `{"action":"suspend","installation":{"id":9}}`)
	assert.Equal(t, StatusRegistry, out.Status)
	inst, _ = f.reg.Get(9)
	assert.True(t, inst.Suspended)
	assert.Len(t, inst.Repositories, 2)

	f.dispatch(t, event.EventInstallation, `{"action":"unsuspend","installation":{"id":9}}`)
	inst, _ = f.reg.Get(9)
	assert.False(t, inst.Suspended)

	f.dispatch(t, event.EventInstallationRepositories, `{"action":"added","installation":{"id":9},"repositories_added":[{"id":3,"full_name":"octo/c"}]}`)
	f.dispatch(t, event.EventInstallationRepositories, `{"action":"removed","installation":{"id":9},"repositories_removed":[{"id":1,"full_name":"octo/a"}]}`)
	inst, _ = f.reg.Get(9)
	names := []string{}
	for _, r := range inst.Repositories {
		names = append(names, r.FullName)
	}
	assert.Equal(t, []string{"octo/b", "octo/c"}, names)

	f.dispatch(t, event.EventInstallation, `{"action":"deleted","installation":{"id":9}}`)
	_, ok = f.reg.Get(9)
	assert.False(t, ok)
	assert.Equal(t, []int64{9}, f.tokens.forgotten)
	assert.Empty(t, f.handler.handled)
}

func TestDispatchGeneratesDeliveryID(t *testing.T) {
	f := newDispatchFixture(nil)
	f.reg.Upsert(7, nil)
	p, err := ParseDelivery([]byte(issueOpened))
	require.NoError(t, err)

	out := f.d.Dispatch(context.Background(), Delivery{Event: "issues", Body: []byte(issueOpened)}, p)
	_, err = uuid.Parse(out.DeliveryID)
	assert.NoError(t, err)
}

func TestDispatchWithoutAudit(t *testing.T) {
	f := newDispatchFixture(nil)
	f.d.audit = nil
	f.reg.Upsert(7, nil)

	assert.Equal(t, StatusOK, f.dispatch(t, "issues", issueOpened).Status)
	assert.Empty(t, f.audit.deliveries)
}
