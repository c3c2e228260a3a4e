package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/taskgate/internal/a2a"
	"github.com/mbd888/taskgate/internal/authctx"
	"github.com/mbd888/taskgate/internal/facilitator"
	"github.com/mbd888/taskgate/internal/logging"
	"github.com/mbd888/taskgate/internal/paywall"
	"github.com/mbd888/taskgate/internal/pushnotify"
	"github.com/mbd888/taskgate/internal/x402"
)

const testSubscriber = "0x1234567890123456789012345678901234567890"

type settleCall struct {
	token          string
	maxAmount      string
	agentRequestID string
}

type fakeFacilitator struct {
	mu          sync.Mutex
	verifyCalls int
	settles     []settleCall

	verifyResult *facilitator.VerifyResult
	settleResult *facilitator.SettleResult
	settleErr    error
}

func newFakeFacilitator() *fakeFacilitator {
	return &fakeFacilitator{
		verifyResult: &facilitator.VerifyResult{IsValid: true, AgentRequestID: "req-1"},
		settleResult: &facilitator.SettleResult{Success: true, Transaction: "0xabc"},
	}
}

func (f *fakeFacilitator) VerifyPermissions(_ context.Context, _ x402.PaymentRequired, token, maxAmount string) (*facilitator.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.verifyResult, nil
}

func (f *fakeFacilitator) SettlePermissions(_ context.Context, _ x402.PaymentRequired, token, maxAmount, agentRequestID string) (*facilitator.SettleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settles = append(f.settles, settleCall{token: token, maxAmount: maxAmount, agentRequestID: agentRequestID})
	return f.settleResult, f.settleErr
}

func (f *fakeFacilitator) settleCalls() []settleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settleCall(nil), f.settles...)
}

type fakePlans struct{}

func (fakePlans) GetPlan(context.Context, string) (*x402.PlanMetadata, error) {
	return &x402.PlanMetadata{}, nil
}

func encodeToken(t *testing.T, planID string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"accepted": map[string]any{"scheme": "nvm:erc4337", "planId": planID},
		"payload":  map[string]any{"authorization": map[string]any{"from": testSubscriber}},
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

type fixture struct {
	controller *Controller
	fac        *fakeFacilitator
	auth       *authctx.Store
	store      *a2a.MemoryStore
	push       *pushnotify.MemoryConfigStore
}

func newFixture(t *testing.T, executor a2a.AgentExecutor, opts ...Option) *fixture {
	t.Helper()
	logger := logging.New("debug", "text")
	fac := newFakeFacilitator()
	resolver := x402.NewResolver(fakePlans{}, logger)
	validator := paywall.NewValidator(fac, resolver, "agent-1", "test agent", []string{"plan-a"}, logger)

	store := a2a.NewMemoryStore()
	engine := a2a.NewEngine(executor, store, logger).WithFlushDelay(time.Millisecond)
	auth := authctx.NewStore()
	push := pushnotify.NewMemoryConfigStore()

	return &fixture{
		controller: NewController(
			engine, validator, fac, auth, push,
			pushnotify.NewNotifier(logger),
			"agent-1", "test agent", logger, opts...,
		),
		fac:   fac,
		auth:  auth,
		store: store,
		push:  push,
	}
}

func creditExecutor(credits int64) a2a.AgentExecutor {
	return a2a.NewHandlerExecutor(func(_ context.Context, rc *a2a.RequestContext) (*a2a.HandlerResponse, error) {
		return &a2a.HandlerResponse{Text: "done", CreditsUsed: credits}, nil
	}, 1)
}

func send(taskID string) *a2a.SendParams {
	return &a2a.SendParams{
		Message: &a2a.Message{
			Kind:   a2a.KindMessage,
			Role:   "user",
			TaskID: taskID,
			Parts:  []a2a.Part{{Kind: "text", Text: "hello"}},
		},
	}
}

func nonBlocking(p *a2a.SendParams) *a2a.SendParams {
	f := false
	p.Configuration = &a2a.SendConfiguration{Blocking: &f}
	return p
}

func creds(t *testing.T) paywall.Request {
	return paywall.Request{BearerToken: encodeToken(t, "plan-a"), URL: "/a2a", HTTPMethod: "POST"}
}

func TestMessageSendBlockingSettlesOnce(t *testing.T) {
	fx := newFixture(t, creditExecutor(5))
	ctx := context.Background()

	token := encodeToken(t, "plan-a")
	result, err := fx.controller.OnMessageSend(ctx, send(""), paywall.Request{
		BearerToken: token, URL: "/a2a", HTTPMethod: "POST",
	})
	require.NoError(t, err)

	task := result.(*a2a.Task)
	assert.Equal(t, a2a.StateCompleted, task.Status.State)

	calls := fx.fac.settleCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "5", calls[0].maxAmount)
	assert.Equal(t, token, calls[0].token)
	assert.Equal(t, "req-1", calls[0].agentRequestID)

	// Credential is gone once the task is settled and cleaned up.
	_, aerr := fx.auth.Get(task.ID, "")
	assert.ErrorIs(t, aerr, authctx.ErrNotFound)
}

func TestMessageSendNonBlockingSettlesInBackground(t *testing.T) {
	fx := newFixture(t, creditExecutor(3))
	ctx := context.Background()

	result, err := fx.controller.OnMessageSend(ctx, nonBlocking(send("")), creds(t))
	require.NoError(t, err)

	task := result.(*a2a.Task)
	assert.Equal(t, a2a.StateSubmitted, task.Status.State)
	assert.Empty(t, fx.fac.settleCalls())

	require.Eventually(t, func() bool {
		return len(fx.fac.settleCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "3", fx.fac.settleCalls()[0].maxAmount)

	require.Eventually(t, func() bool {
		stored, err := fx.store.Get(ctx, task.ID)
		return err == nil && stored.Status.State == a2a.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMessageSendSettlementFailureStillReturnsResult(t *testing.T) {
	fx := newFixture(t, creditExecutor(5))
	fx.fac.settleErr = facilitator.ErrNetwork

	result, err := fx.controller.OnMessageSend(context.Background(), send(""), creds(t))
	require.NoError(t, err)
	assert.Equal(t, a2a.StateCompleted, result.(*a2a.Task).Status.State)
	assert.Len(t, fx.fac.settleCalls(), 1)
}

func TestMessageSendWithoutCredentials(t *testing.T) {
	fx := newFixture(t, creditExecutor(1))

	_, err := fx.controller.OnMessageSend(context.Background(), send(""), paywall.Request{
		URL: "/a2a", HTTPMethod: "POST",
	})
	require.Error(t, err)

	var perr *paywall.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, paywall.KindUnauthorized, perr.Kind)
	assert.NotNil(t, perr.PaymentRequired)

	// Nothing ran, nothing verified, nothing settled.
	assert.Zero(t, fx.fac.verifyCalls)
	assert.Empty(t, fx.fac.settleCalls())
}

func TestMessageSendNoMeteredUsageSkipsSettlement(t *testing.T) {
	executor := a2a.ExecutorFunc(func(ctx context.Context, rc *a2a.RequestContext, q *a2a.EventQueue) error {
		return q.Enqueue(ctx, &a2a.TaskStatusUpdateEvent{
			Kind: a2a.KindStatusUpdate, TaskID: rc.TaskID,
			Status: a2a.TaskStatus{State: a2a.StateCompleted}, Final: true,
		})
	})
	fx := newFixture(t, executor)

	_, err := fx.controller.OnMessageSend(context.Background(), send(""), creds(t))
	require.NoError(t, err)
	assert.Empty(t, fx.fac.settleCalls())
}

func TestMessageSendRejectsConcurrentTask(t *testing.T) {
	release := make(chan struct{})
	executor := a2a.ExecutorFunc(func(ctx context.Context, rc *a2a.RequestContext, q *a2a.EventQueue) error {
		<-release
		return q.Enqueue(ctx, &a2a.TaskStatusUpdateEvent{
			Kind: a2a.KindStatusUpdate, TaskID: rc.TaskID,
			Status: a2a.TaskStatus{State: a2a.StateCompleted}, Final: true,
		})
	})
	fx := newFixture(t, executor)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.controller.OnMessageSend(ctx, send("task-dup"), creds(t))
	}()

	require.Eventually(t, func() bool {
		fx.controller.mu.Lock()
		defer fx.controller.mu.Unlock()
		_, ok := fx.controller.running["task-dup"]
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err := fx.controller.OnMessageSend(ctx, send("task-dup"), creds(t))
	assert.ErrorIs(t, err, ErrTaskAlreadyRunning)

	close(release)
	<-done
}

func TestMessageSendMigratesCredentialToTask(t *testing.T) {
	var auth *authctx.Store
	probe := make(chan error, 1)
	executor := a2a.ExecutorFunc(func(ctx context.Context, rc *a2a.RequestContext, q *a2a.EventQueue) error {
		// While the task runs, the credential must already be reachable
		// under the task id.
		_, err := auth.Get(rc.TaskID, "")
		probe <- err
		return q.Enqueue(ctx, &a2a.TaskStatusUpdateEvent{
			Kind: a2a.KindStatusUpdate, TaskID: rc.TaskID,
			Status: a2a.TaskStatus{State: a2a.StateCompleted}, Final: true,
		})
	})
	fx := newFixture(t, executor)
	auth = fx.auth

	_, err := fx.controller.OnMessageSend(context.Background(), send(""), creds(t))
	require.NoError(t, err)
	require.NoError(t, <-probe)
}

func TestOnGetTask(t *testing.T) {
	fx := newFixture(t, creditExecutor(2))
	ctx := context.Background()

	result, err := fx.controller.OnMessageSend(ctx, send(""), creds(t))
	require.NoError(t, err)
	taskID := result.(*a2a.Task).ID

	got, err := fx.controller.OnGetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, a2a.StateCompleted, got.Status.State)

	_, err = fx.controller.OnGetTask(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = fx.controller.OnGetTask(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestPushConfigRoundTrip(t *testing.T) {
	fx := newFixture(t, creditExecutor(1))
	ctx := context.Background()

	err := fx.controller.OnSetPushConfig(ctx, &pushnotify.Config{TaskID: "t1", URL: "https://example.com/hook"})
	require.NoError(t, err)

	cfg, err := fx.controller.OnGetPushConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", cfg.URL)

	_, err = fx.controller.OnGetPushConfig(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = fx.controller.OnSetPushConfig(ctx, &pushnotify.Config{TaskID: "", URL: ""})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestPushNotificationDeliveredOnCompletion(t *testing.T) {
	var mu sync.Mutex
	var notes []pushnotify.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n pushnotify.Notification
		json.NewDecoder(r.Body).Decode(&n)
		mu.Lock()
		notes = append(notes, n)
		mu.Unlock()
	}))
	defer srv.Close()

	fx := newFixture(t, creditExecutor(2))
	ctx := context.Background()

	require.NoError(t, fx.controller.OnSetPushConfig(ctx, &pushnotify.Config{TaskID: "task-push", URL: srv.URL}))

	_, err := fx.controller.OnMessageSend(ctx, send("task-push"), creds(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notes, 1)
	assert.Equal(t, "task-push", notes[0].TaskID)
	assert.Equal(t, "completed", notes[0].State)
}

func TestMessageSendStreamYieldsAllEvents(t *testing.T) {
	fx := newFixture(t, creditExecutor(4))
	ctx := context.Background()

	var kinds []string
	err := fx.controller.OnMessageSendStream(ctx, send(""), creds(t), func(ev a2a.Event) error {
		kinds = append(kinds, ev.EventKind())
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{a2a.KindTask, a2a.KindStatusUpdate, a2a.KindStatusUpdate}, kinds)
	require.Len(t, fx.fac.settleCalls(), 1)
	assert.Equal(t, "4", fx.fac.settleCalls()[0].maxAmount)
}

func TestMessageSendInvalidParams(t *testing.T) {
	fx := newFixture(t, creditExecutor(1))
	_, err := fx.controller.OnMessageSend(context.Background(), nil, creds(t))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = fx.controller.OnMessageSend(context.Background(), &a2a.SendParams{}, creds(t))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

type silentExecutor struct{}

func (silentExecutor) Execute(context.Context, *a2a.RequestContext, *a2a.EventQueue) error {
	return nil
}

func TestMessageSendEmptyExecutionIsAnError(t *testing.T) {
	fx := newFixture(t, silentExecutor{})

	result, err := fx.controller.OnMessageSend(context.Background(), send(""), creds(t))
	require.Error(t, err)
	assert.Nil(t, result)

	var perr *paywall.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, paywall.KindInternal, perr.Kind)

	// Nothing to meter, so nothing may be settled.
	assert.Empty(t, fx.fac.settleCalls())
}
