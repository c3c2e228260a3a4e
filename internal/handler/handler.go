// Package handler is the task execution controller: it glues payment
// validation, agent execution, credit settlement, and push notification
// delivery into the message/send and message/stream operations.
//
// The invariant the controller protects: an agent never does paid work
// without a verified credential, and every finished task settles the credits
// it actually consumed, whether or not the caller is still connected.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/mbd888/taskgate/internal/a2a"
	"github.com/mbd888/taskgate/internal/authctx"
	"github.com/mbd888/taskgate/internal/facilitator"
	"github.com/mbd888/taskgate/internal/idgen"
	"github.com/mbd888/taskgate/internal/metrics"
	"github.com/mbd888/taskgate/internal/paywall"
	"github.com/mbd888/taskgate/internal/pushnotify"
	"github.com/mbd888/taskgate/internal/realtime"
	"github.com/mbd888/taskgate/internal/syncutil"
	"github.com/mbd888/taskgate/internal/traces"
	"github.com/mbd888/taskgate/internal/x402"
)

var (
	ErrInvalidParams      = errors.New("handler: invalid params")
	ErrTaskAlreadyRunning = errors.New("handler: task already running")
	ErrTaskNotFound       = errors.New("handler: task not found")
)

// Option configures a Controller.
type Option func(*Controller)

// WithHub wires a realtime hub for live task event broadcasts.
func WithHub(hub *realtime.Hub) Option {
	return func(c *Controller) { c.hub = hub }
}

// WithDefaultBlocking sets the blocking mode used when the caller does not
// specify one.
func WithDefaultBlocking(blocking bool) Option {
	return func(c *Controller) { c.defaultBlocking = blocking }
}

// Controller executes paid tasks.
type Controller struct {
	engine      *a2a.Engine
	validator   *paywall.Validator
	fac         facilitator.Client
	auth        *authctx.Store
	pushConfigs pushnotify.ConfigStore
	notifier    *pushnotify.Notifier
	hub         *realtime.Hub
	logger      *slog.Logger

	agentID         string
	description     string
	defaultBlocking bool

	settleLocks *syncutil.ShardedMutex
	mu          sync.Mutex
	running     map[string]struct{}
}

// NewController wires a controller.
func NewController(
	engine *a2a.Engine,
	validator *paywall.Validator,
	fac facilitator.Client,
	auth *authctx.Store,
	pushConfigs pushnotify.ConfigStore,
	notifier *pushnotify.Notifier,
	agentID, description string,
	logger *slog.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		engine:          engine,
		validator:       validator,
		fac:             fac,
		auth:            auth,
		pushConfigs:     pushConfigs,
		notifier:        notifier,
		logger:          logger,
		agentID:         agentID,
		description:     description,
		defaultBlocking: true,
		settleLocks:     &syncutil.ShardedMutex{},
		running:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessageSend handles a message/send call: validate payment, run the
// agent, settle credits on completion. In blocking mode the call returns the
// finished task; in non-blocking mode it returns the submitted task and the
// stream keeps draining in the background, settlement included.
func (c *Controller) OnMessageSend(ctx context.Context, params *a2a.SendParams, creds paywall.Request) (a2a.Event, error) {
	if params == nil || params.Message == nil {
		return nil, ErrInvalidParams
	}
	msg := params.Message
	if msg.MessageID == "" {
		msg.MessageID = idgen.WithPrefix("msg_")
	}

	ctx, span := traces.StartSpan(ctx, "handler.OnMessageSend", traces.MessageID(msg.MessageID))
	defer span.End()

	val, verr := c.validator.Validate(ctx, creds)
	if verr != nil {
		return nil, verr
	}
	c.auth.SetForMessage(msg.MessageID, &authctx.Context{
		BearerToken:  creds.BearerToken,
		URLRequested: creds.URL,
		HTTPMethod:   creds.HTTPMethod,
		Validation:   val,
	})

	taskID := msg.TaskID
	if taskID == "" {
		taskID = idgen.WithPrefix("task_")
		msg.TaskID = taskID
	}

	if !c.markRunning(taskID) {
		c.auth.DeleteForMessage(msg.MessageID)
		return nil, ErrTaskAlreadyRunning
	}

	// The credential now follows the task, not the message: settlement
	// happens after the message's request may be long gone.
	c.auth.Migrate(msg.MessageID, taskID)

	exec, err := c.engine.SetupExecution(ctx, params)
	if err != nil {
		c.unmarkRunning(taskID)
		c.auth.DeleteForTask(taskID)
		return nil, err
	}

	blocking := c.defaultBlocking
	if params.Configuration != nil && params.Configuration.Blocking != nil {
		blocking = *params.Configuration.Blocking
	}

	reader := c.newSettlingReader(a2a.NewConsumer(exec.Queue), taskID)
	result, interrupted, err := exec.Aggregator.ConsumeAndBreakOnInterrupt(ctx, reader, blocking)
	if err != nil {
		go c.cleanup(context.WithoutCancel(ctx), exec, msg.MessageID)
		return nil, err
	}

	if interrupted {
		// Detached drain: the producer keeps going and settlement still
		// fires when the terminal event arrives.
		bg := context.WithoutCancel(ctx)
		go func() {
			exec.Aggregator.ContinueConsuming(bg, reader)
			c.cleanup(bg, exec, msg.MessageID)
		}()
		return result, nil
	}

	c.cleanup(context.WithoutCancel(ctx), exec, msg.MessageID)
	if result == nil {
		return nil, paywall.Internal("execution finished without producing a result", nil)
	}
	return result, nil
}

// OnMessageSendStream handles a message/stream call: same lifecycle as
// OnMessageSend, but every event is yielded to the caller as it happens and
// settlement fires inline when the terminal event passes through.
func (c *Controller) OnMessageSendStream(ctx context.Context, params *a2a.SendParams, creds paywall.Request, yield func(a2a.Event) error) error {
	if params == nil || params.Message == nil {
		return ErrInvalidParams
	}
	msg := params.Message
	if msg.MessageID == "" {
		msg.MessageID = idgen.WithPrefix("msg_")
	}

	ctx, span := traces.StartSpan(ctx, "handler.OnMessageSendStream", traces.MessageID(msg.MessageID))
	defer span.End()

	val, verr := c.validator.Validate(ctx, creds)
	if verr != nil {
		return verr
	}
	c.auth.SetForMessage(msg.MessageID, &authctx.Context{
		BearerToken:  creds.BearerToken,
		URLRequested: creds.URL,
		HTTPMethod:   creds.HTTPMethod,
		Validation:   val,
	})

	taskID := msg.TaskID
	if taskID == "" {
		taskID = idgen.WithPrefix("task_")
		msg.TaskID = taskID
	}
	if !c.markRunning(taskID) {
		c.auth.DeleteForMessage(msg.MessageID)
		return ErrTaskAlreadyRunning
	}
	c.auth.Migrate(msg.MessageID, taskID)

	exec, err := c.engine.SetupExecution(ctx, params)
	if err != nil {
		c.unmarkRunning(taskID)
		c.auth.DeleteForTask(taskID)
		return err
	}
	defer c.cleanup(context.WithoutCancel(ctx), exec, msg.MessageID)

	reader := c.newSettlingReader(a2a.NewConsumer(exec.Queue), taskID)
	for {
		ev, err := reader.ReadEvent(ctx)
		if errors.Is(err, a2a.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if perr := exec.Manager.Process(ctx, ev); perr != nil {
			return perr
		}
		if yerr := yield(ev); yerr != nil {
			// Caller went away; keep draining so settlement still runs.
			bg := context.WithoutCancel(ctx)
			exec.Aggregator.ContinueConsuming(bg, reader)
			return yerr
		}
		if su, ok := ev.(*a2a.TaskStatusUpdateEvent); ok && su.Final {
			return nil
		}
	}
}

// OnGetTask returns the persisted state of a task.
func (c *Controller) OnGetTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	if taskID == "" {
		return nil, ErrInvalidParams
	}
	task, err := c.engine.Store().Get(ctx, taskID)
	if errors.Is(err, a2a.ErrTaskNotFound) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// OnSetPushConfig registers a webhook for a task.
func (c *Controller) OnSetPushConfig(ctx context.Context, cfg *pushnotify.Config) error {
	if cfg == nil || cfg.TaskID == "" || cfg.URL == "" {
		return ErrInvalidParams
	}
	return c.pushConfigs.Set(ctx, cfg)
}

// OnGetPushConfig returns the webhook registered for a task.
func (c *Controller) OnGetPushConfig(ctx context.Context, taskID string) (*pushnotify.Config, error) {
	if taskID == "" {
		return nil, ErrInvalidParams
	}
	cfg, err := c.pushConfigs.Get(ctx, taskID)
	if errors.Is(err, pushnotify.ErrConfigNotFound) {
		return nil, ErrTaskNotFound
	}
	return cfg, err
}

func (c *Controller) markRunning(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[taskID]; ok {
		return false
	}
	c.running[taskID] = struct{}{}
	metrics.TasksRunning.Inc()
	return true
}

func (c *Controller) unmarkRunning(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[taskID]; ok {
		delete(c.running, taskID)
		metrics.TasksRunning.Dec()
	}
}

// cleanup tears down one execution: wait for the producer (which closes the
// queue after its flush delay), release queue resources, then drop the
// running mark and the stored credential.
func (c *Controller) cleanup(ctx context.Context, exec *a2a.Execution, messageID string) {
	if err := exec.Producer.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("producer finished with error", "task_id", exec.TaskID, "error", err)
	}
	c.engine.ReleaseQueue(exec.TaskID)
	c.unmarkRunning(exec.TaskID)
	c.auth.DeleteForTask(exec.TaskID)
	c.auth.DeleteForMessage(messageID)
}

// settlingReader intercepts the event stream and fires settlement and push
// delivery when the terminal event passes through, before the event reaches
// whoever is consuming.
type settlingReader struct {
	inner  a2a.EventReader
	c      *Controller
	taskID string
}

func (c *Controller) newSettlingReader(inner a2a.EventReader, taskID string) *settlingReader {
	return &settlingReader{inner: inner, c: c, taskID: taskID}
}

func (r *settlingReader) ReadEvent(ctx context.Context) (a2a.Event, error) {
	ev, err := r.inner.ReadEvent(ctx)
	if err != nil {
		return nil, err
	}
	if su, ok := ev.(*a2a.TaskStatusUpdateEvent); ok {
		if r.c.hub != nil {
			r.c.hub.BroadcastTaskStatus(su.TaskID, string(su.Status.State), su.Final)
		}
		if su.Final {
			r.c.settle(ctx, r.taskID, su)
			r.c.deliverPush(ctx, r.taskID, su)
		}
	}
	return ev, nil
}

// settle burns the credits a finished task consumed. Strictly best effort:
// failures are logged, metered, and swallowed.
func (c *Controller) settle(ctx context.Context, taskID string, ev *a2a.TaskStatusUpdateEvent) {
	unlock := c.settleLocks.Lock(taskID)
	defer unlock()

	credits, ok := ev.CreditsUsed()
	if !ok || credits <= 0 {
		c.logger.Debug("no metered usage on terminal event, skipping settlement", "task_id", taskID)
		metrics.SettlementsTotal.WithLabelValues("skipped").Inc()
		return
	}

	ac, err := c.auth.Get(taskID, "")
	if err != nil || ac.Validation == nil {
		c.logger.Warn("no authorization context for settlement", "task_id", taskID)
		metrics.SettlementsTotal.WithLabelValues("missing_context").Inc()
		return
	}
	val := ac.Validation

	agentRequestID := val.AgentRequestID
	if agentRequestID == "" {
		agentRequestID = ev.AgentRequestID()
	}

	ctx, span := traces.StartSpan(ctx, "handler.settle",
		traces.TaskID(taskID), traces.PlanID(val.PlanID), traces.Credits(credits))
	defer span.End()

	descriptor := x402.BuildPaymentRequiredWithSchemes(val.PlanIDs, nil, x402.RequirementParams{
		Endpoint:    ac.URLRequested,
		AgentID:     c.agentID,
		HTTPVerb:    ac.HTTPMethod,
		Description: c.description,
		Scheme:      x402.Scheme(val.Scheme),
	})

	result, err := c.fac.SettlePermissions(ctx, descriptor, ac.BearerToken, strconv.FormatInt(credits, 10), agentRequestID)
	if err != nil {
		c.logger.Warn("settlement failed", "task_id", taskID, "plan_id", val.PlanID, "credits", credits, "error", err)
		metrics.SettlementsTotal.WithLabelValues("error").Inc()
		if c.hub != nil {
			c.hub.BroadcastSettlement(taskID, val.PlanID, credits, false)
		}
		return
	}
	if !result.Success {
		c.logger.Warn("settlement rejected", "task_id", taskID, "plan_id", val.PlanID, "credits", credits, "reason", result.ErrorReason)
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		if c.hub != nil {
			c.hub.BroadcastSettlement(taskID, val.PlanID, credits, false)
		}
		return
	}

	c.logger.Info("credits settled",
		"task_id", taskID, "plan_id", val.PlanID, "credits", credits,
		"transaction", result.Transaction, "network", result.Network)
	metrics.SettlementsTotal.WithLabelValues("success").Inc()
	metrics.SettledCredits.Add(float64(credits))
	if c.hub != nil {
		c.hub.BroadcastSettlement(taskID, val.PlanID, credits, true)
	}
}

// deliverPush sends the registered webhook for a finished task, if any.
func (c *Controller) deliverPush(ctx context.Context, taskID string, ev *a2a.TaskStatusUpdateEvent) {
	cfg, err := c.pushConfigs.Get(ctx, taskID)
	if err != nil {
		return
	}
	c.notifier.Notify(ctx, cfg, pushnotify.Notification{
		TaskID:  taskID,
		State:   string(ev.Status.State),
		Payload: ev,
	})
}
