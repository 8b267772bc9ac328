// Package action is the entry point every tenant-scoped operation runs through.
//
// A run moves through five stages in fixed order and stops at the first
// failure: authenticate, resolve tenant, validate input, authorize, execute.
// Whatever happens, the caller receives a single Result.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/tenant"
)

// Stage identifies how far a run progressed.
type Stage int

// Pipeline stages in execution order.
const (
	StageStart Stage = iota
	StageAuthenticated
	StageTenantResolved
	StageValidated
	StageAuthorized
	StageExecuted
)

var stageNames = [...]string{"start", "authenticated", "tenant_resolved", "validated", "authorized", "executed"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// RoleCheck decides whether a role may run an operation.
type RoleCheck func(role rbac.Role, ac *Context) bool

// AnyMember lets every authenticated organization member through. Operations
// must opt into it explicitly; a nil RoleCheck is rejected.
func AnyMember(rbac.Role, *Context) bool { return true }

// Require adapts a role capability such as rbac.CanCreateContent.
func Require(capability func(rbac.Role) bool) RoleCheck {
	return func(role rbac.Role, _ *Context) bool {
		return capability(role)
	}
}

// Handler implements an operation's behaviour on validated input.
type Handler[In, Out any] func(ctx context.Context, in In, ac *Context) (Out, error)

// Operation declares everything the pipeline needs to run one action.
type Operation[In, Out any] struct {
	Name      string
	Schema    Schema[In]
	RoleCheck RoleCheck
	Handler   Handler[In, Out]
}

// Observer receives the outcome of every run. code is empty on success.
type Observer interface {
	ObserveAction(name string, stage Stage, code ErrorCode, elapsed time.Duration)
}

// Config collects the pipeline's collaborators.
type Config struct {
	Authenticator Authenticator
	Tenants       *tenant.Context
	Publisher     Publisher
	Observer      Observer
	Logger        *slog.Logger
	Now           func() time.Time
}

// Pipeline runs operations. It holds no per-request state and is safe for
// concurrent use.
type Pipeline struct {
	auth      Authenticator
	tenants   *tenant.Context
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		auth:      cfg.Authenticator,
		tenants:   cfg.Tenants,
		publisher: cfg.Publisher,
		observer:  cfg.Observer,
		logger:    logger,
		now:       now,
	}
}

type run struct {
	name  string
	stage Stage
	start time.Time
}

// Run executes op for the caller found in ctx using the untrusted raw input.
func Run[In, Out any](ctx context.Context, p *Pipeline, op Operation[In, Out], raw any) Result[Out] {
	r := &run{name: op.Name, start: p.now()}
	res := runStages(ctx, p, op, raw, r)
	if p.observer != nil {
		p.observer.ObserveAction(op.Name, r.stage, res.Code, p.now().Sub(r.start))
	}
	return res
}

func runStages[In, Out any](ctx context.Context, p *Pipeline, op Operation[In, Out], raw any, r *run) Result[Out] {
	if p.auth == nil || p.tenants == nil {
		p.logger.Error("action pipeline misconfigured", slog.String("action", r.name))
		return Fail[Out](CodeInternal, msgInternal)
	}

	principal, err := p.auth.Authenticate(ctx)
	if err != nil || principal == nil || principal.ID == "" {
		if err != nil && !errors.Is(err, ErrUnauthenticated) {
			p.logger.Warn("action authenticate", slog.String("action", r.name), slog.Any("error", err))
		}
		return Fail[Out](CodeUnauthorized, msgUnauthorized)
	}
	r.stage = StageAuthenticated

	if !principal.HasOrganization() {
		return Fail[Out](CodeOrgRequired, msgOrgRequired)
	}
	handle, err := p.tenants.ForOrganization(principal.OrganizationID)
	if err != nil {
		p.logger.Warn("action resolve tenant",
			slog.String("action", r.name),
			slog.String("principal", principal.ID),
			slog.Any("error", err))
		return Fail[Out](CodeOrgRequired, msgOrgRequired)
	}
	r.stage = StageTenantResolved

	if op.Schema == nil || op.RoleCheck == nil || op.Handler == nil {
		p.logger.Error("action operation incomplete",
			slog.String("action", r.name),
			slog.Bool("schema", op.Schema != nil),
			slog.Bool("role_check", op.RoleCheck != nil),
			slog.Bool("handler", op.Handler != nil))
		return Fail[Out](CodeInternal, msgInternal)
	}

	input, fieldErrs := op.Schema.Parse(raw)
	if len(fieldErrs) > 0 {
		res := Fail[Out](CodeValidation, msgValidation)
		res.FieldErrors = fieldErrs
		return res
	}
	r.stage = StageValidated

	ac := &Context{
		PrincipalID:    principal.ID,
		OrganizationID: handle.OrganizationID(),
		Role:           principal.Role,
		Query:          handle,
		now:            p.now,
	}
	if !op.RoleCheck(principal.Role, ac) {
		return Fail[Out](CodeForbidden, msgForbidden)
	}
	r.stage = StageAuthorized

	out, err := execute(ctx, op.Handler, input, ac)
	r.stage = StageExecuted
	if err != nil {
		code, msg, fields := Classify(err)
		level := slog.LevelWarn
		if code == CodeInternal {
			level = slog.LevelError
		}
		p.logger.Log(ctx, level, "action failed",
			slog.String("action", r.name),
			slog.String("principal", ac.PrincipalID),
			slog.String("organization", ac.OrganizationID),
			slog.String("code", string(code)),
			slog.Any("error", err))
		res := Fail[Out](code, msg)
		res.FieldErrors = fields
		return res
	}

	p.publish(ctx, r.name, ac.events)
	return OK(out)
}

func execute[In, Out any](ctx context.Context, h Handler[In, Out], in In, ac *Context) (out Out, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero Out
			out = zero
			err = Internal(fmt.Errorf("panic: %v", rec))
		}
	}()
	return h(ctx, in, ac)
}

func (p *Pipeline) publish(ctx context.Context, name string, events []Event) {
	if p.publisher == nil {
		return
	}
	for _, event := range events {
		if err := p.publisher.Publish(ctx, event); err != nil {
			p.logger.Warn("action publish event",
				slog.String("action", name),
				slog.String("event", event.Type),
				slog.Any("error", err))
		}
	}
}
