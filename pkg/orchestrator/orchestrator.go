// Package orchestrator wires the extension pipeline, the trust engine,
// the resilience fabric, and the proof chain together into the two
// protocols a caller actually drives: granting a capability and
// executing an action.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/voriongit/vorion-sub013/pkg/aci"
	"github.com/voriongit/vorion-sub013/pkg/contracts"
	"github.com/voriongit/vorion-sub013/pkg/extensions"
	"github.com/voriongit/vorion-sub013/pkg/proofchain"
	"github.com/voriongit/vorion-sub013/pkg/resilience"
	"github.com/voriongit/vorion-sub013/pkg/telemetry"
	"github.com/voriongit/vorion-sub013/pkg/trust"
	"github.com/voriongit/vorion-sub013/pkg/vorionerr"
)

// CapabilityResult is the outcome of ProcessCapabilityRequest: either a
// Grant, or a denial naming the extension that vetoed it.
type CapabilityResult struct {
	Grant           *contracts.CapabilityGrant `json:"grant,omitempty"`
	Denied          bool                       `json:"denied"`
	DeniedBy        string                     `json:"denied_by,omitempty"`
	DenialReason    string                     `json:"denial_reason,omitempty"`
	PostGrantErrors []error                    `json:"-"`
}

// ActionOutcome is the outcome of ProcessAction. A blocked outcome that
// carries approval requirements represents a requires-approval verdict
// rather than an outright deny; the caller is expected to route it to
// whatever authority the approvals name.
type ActionOutcome struct {
	Record           contracts.ActionRecord        `json:"record"`
	Blocked          bool                           `json:"blocked"`
	RequiresApproval bool                           `json:"requires_approval,omitempty"`
	Approvals        []extensions.ApprovalRequirement `json:"approvals,omitempty"`
	BlockedBy        string                         `json:"blocked_by,omitempty"`
	BlockReason      string                         `json:"block_reason,omitempty"`
	FailurePolicy    extensions.FailurePolicy       `json:"failure_policy,omitempty"`
	FailureErrors    []error                        `json:"-"`
	Proof            *contracts.ProofRecord         `json:"proof,omitempty"`
}

// Execute runs the caller-supplied side effect for an action request,
// returning whatever result the caller wants recorded.
type Execute func(ctx context.Context, req contracts.ActionRequest) (any, error)

// Orchestrator is the Decision Orchestrator: it resolves an agent's
// installed extension set from its ACI short codes, runs the
// capability-grant and action-execution protocols against that set, and
// binds every action into the tenant's signed proof chain.
type Orchestrator struct {
	registry       *extensions.Registry
	globalPipeline *extensions.Pipeline
	trustEngine    *trust.Engine
	chain          *proofchain.Chain
	redis          *redis.Client

	breakers sync.Map // actionType -> *resilience.Breaker
	limiter  *rate.Limiter

	observability   contracts.ObservabilityClass
	deployCtx       contracts.DeploymentContext
	defaultGrantTTL time.Duration
	lockTTL         time.Duration
}

// New builds an Orchestrator. observability and deployCtx are the
// runtime's own declared visibility and deployment context, fed straight
// through to the Trust Engine on every signal recorded off an action.
func New(registry *extensions.Registry, trustEngine *trust.Engine, chain *proofchain.Chain, redisClient *redis.Client, observability contracts.ObservabilityClass, deployCtx contracts.DeploymentContext) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		globalPipeline:  extensions.NewPipeline(registry),
		trustEngine:     trustEngine,
		chain:           chain,
		redis:           redisClient,
		limiter:         rate.NewLimiter(rate.Limit(100), 20),
		observability:   observability,
		deployCtx:       deployCtx,
		defaultGrantTTL: time.Hour,
		lockTTL:         5 * time.Second,
	}
}

// scopedPipeline resolves the subset of the registry an agent's ACI
// extension short codes declare. An agent with no declared extensions
// gets an empty pipeline, which aggregates to a default allow.
func (o *Orchestrator) scopedPipeline(agent *contracts.AgentIdentity) (*extensions.Pipeline, error) {
	parsed, err := aci.Parse(agent.ACI)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: parse agent aci %q: %w", agent.ACI, err)
	}
	if len(parsed.Extensions) == 0 {
		return extensions.NewScopedPipeline(nil, false), nil
	}
	return extensions.NewScopedPipeline(o.registry.ByShortCode(parsed.Extensions), false), nil
}

// applyModifications returns a shallow clone of req with every
// modification's dotted path written into Params, later modifications
// overriding earlier ones that touch the same path.
func applyModifications(req contracts.ActionRequest, mods []extensions.Modification) contracts.ActionRequest {
	clone := req
	clone.Params = make(map[string]any, len(req.Params))
	for k, v := range req.Params {
		clone.Params[k] = v
	}
	for _, m := range mods {
		setDottedPath(clone.Params, m.Path, m.Value)
	}
	return clone
}

// setDottedPath writes value at a dot-separated path within m, creating
// intermediate maps as needed.
func setDottedPath(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := m
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
}

// ProcessCapabilityRequest runs the capability-grant protocol: resolve
// the agent's extension set, run preCheck aggregation, construct a
// default grant capped by the agent's own competence level, then fold
// postGrant observers over it.
//
// Grant issuance for a single agent is serialized through a short-lived
// distributed lock so two concurrent requests for the same agent can't
// race past preCheck and issue conflicting grants.
func (o *Orchestrator) ProcessCapabilityRequest(ctx context.Context, agent *contracts.AgentIdentity, req contracts.CapabilityRequest) (*CapabilityResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.process_capability_request")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agent.AgentID), attribute.Int64("domain", int64(req.Domain)))

	pipeline, err := o.scopedPipeline(agent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	lock := resilience.NewLock(o.redis, "capability:"+agent.AgentID, o.lockTTL)
	if err := lock.Acquire(ctx, 3); err != nil {
		return nil, vorionerr.Wrap(vorionerr.KindConflict, "could not serialize capability grant for agent "+agent.AgentID, err)
	}
	defer func() { _ = lock.Release(context.Background()) }()

	preCheck, err := pipeline.PreCheck(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !preCheck.Allow {
		return &CapabilityResult{Denied: true, DeniedBy: preCheck.DeniedBy, DenialReason: preCheck.Reason}, nil
	}

	level := req.Level
	if agent.CompetenceLevel < level {
		level = agent.CompetenceLevel
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = o.defaultGrantTTL
	}
	now := time.Now().UTC()
	grant := contracts.CapabilityGrant{
		ID:          uuid.NewString(),
		ACI:         agent.ACI,
		Domain:      req.Domain,
		Level:       level,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		Constraints: preCheck.Constraints,
	}

	grant, postErrs := pipeline.PostGrant(ctx, grant)
	return &CapabilityResult{Grant: &grant, PostGrantErrors: postErrs}, nil
}

// breakerFor returns the per-action-type circuit breaker, creating it on
// first use. Breaker state lives in Redis, so every orchestrator
// instance fronting the same action type shares the same trip.
func (o *Orchestrator) breakerFor(actionType string) *resilience.Breaker {
	if v, ok := o.breakers.Load(actionType); ok {
		return v.(*resilience.Breaker)
	}
	b := resilience.NewBreaker(o.redis, "action:"+actionType, resilience.DefaultBreakerConfig())
	actual, _ := o.breakers.LoadOrStore(actionType, b)
	return actual.(*resilience.Breaker)
}

// ProcessAction runs the action-execution protocol: preAction
// aggregation gates the call, the breaker for the action type gates the
// call a second time against a tripped downstream dependency, execute
// runs and its outcome is recorded, postAction observers fan out
// detached, paced by a shared rate limiter, onFailure aggregates on error
// without retrying, and the whole record is bound into the proof chain.
func (o *Orchestrator) ProcessAction(ctx context.Context, agent *contracts.AgentIdentity, req contracts.ActionRequest, execute Execute) (*ActionOutcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.process_action")
	defer span.End()
	span.SetAttributes(attribute.String("agent_id", agent.AgentID), attribute.String("action_type", req.ActionType))

	pipeline, err := o.scopedPipeline(agent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	preAction, err := pipeline.PreAction(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !preAction.Proceed {
		span.SetAttributes(attribute.Bool("blocked", true), attribute.String("blocked_by", preAction.BlockedBy))
		rec := contracts.ActionRecord{ID: uuid.NewString(), Request: req, StartedAt: time.Now().UTC()}
		return &ActionOutcome{
			Record:           rec,
			Blocked:          true,
			RequiresApproval: preAction.RequiresApproval,
			Approvals:        preAction.Approvals,
			BlockedBy:        preAction.BlockedBy,
			BlockReason:      preAction.Reason,
		}, nil
	}

	if len(preAction.Modifications) > 0 {
		req = applyModifications(req, preAction.Modifications)
	}

	breaker := o.breakerFor(req.ActionType)
	allowed, err := breaker.Allow(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("orchestrator: breaker check for %q: %w", req.ActionType, err)
	}
	if !allowed {
		span.SetAttributes(attribute.Bool("circuit_breaker_open", true))
		return nil, vorionerr.New(vorionerr.KindCircuitBreakerOpen, fmt.Sprintf("action %q is currently unavailable", req.ActionType))
	}

	rec := contracts.ActionRecord{ID: uuid.NewString(), Request: req, StartedAt: time.Now().UTC()}
	result, execErr := execute(ctx, req)
	rec.CompletedAt = time.Now().UTC()
	if execErr != nil {
		rec.Error = execErr.Error()
		_ = breaker.RecordFailure(ctx)
	} else {
		rec.Result = result
		_ = breaker.RecordSuccess(ctx)
	}

	o.fanOutPostAction(pipeline, rec)

	outcome := &ActionOutcome{Record: rec}
	if execErr != nil {
		outcome.FailurePolicy, outcome.FailureErrors = pipeline.OnFailure(ctx, rec)
	}

	decisionPayload := map[string]any{
		"agent_id":    agent.AgentID,
		"action_type": req.ActionType,
		"blocked":     false,
		"error":       rec.Error,
	}
	inputs := map[string]any{"params": req.Params}
	var outputs map[string]any
	if result != nil {
		outputs = map[string]any{"result": result}
	}
	proof, err := o.chain.Append(ctx, agent.AgentID, decisionPayload, inputs, outputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("orchestrator: append proof: %w", err)
	}
	outcome.Proof = proof

	return outcome, nil
}

// fanOutPostAction dispatches the ambient observation hooks detached
// from the caller's request. Each call starts one goroutine per hook
// family, and each goroutine waits on a shared rate limiter before it
// runs; the limiter paces the hook calls but does not bound how many
// goroutines are waiting on it.
// Any trust signal an extension proposes is forwarded into the Trust
// Engine; the engine itself decides how much weight to give it.
func (o *Orchestrator) fanOutPostAction(pipeline *extensions.Pipeline, rec contracts.ActionRecord) {
	dispatch := func(fn func(ctx context.Context)) {
		go func() {
			ctx := context.Background()
			if err := o.limiter.Wait(ctx); err != nil {
				return
			}
			fn(ctx)
		}()
	}

	dispatch(func(ctx context.Context) { _, _ = pipeline.VerifyBehavior(ctx, rec) })
	dispatch(func(ctx context.Context) { _, _, _ = pipeline.CollectMetrics(ctx, rec) })
	dispatch(func(ctx context.Context) { _, _ = pipeline.OnAnomaly(ctx, rec) })
	dispatch(func(ctx context.Context) {
		signals, _ := pipeline.AdjustTrust(ctx, rec)
		for _, sig := range signals {
			_, _ = o.trustEngine.RecordSignal(ctx, sig, o.observability, o.deployCtx)
		}
	})
}

// EvaluatePolicy builds an environment snapshot (time-of-day, weekday,
// business-hours) and delegates to the full registry's policy.evaluate
// aggregation. It runs over every installed extension rather than an
// agent's own scoped subset, since policy gatekeeping sits above an
// individual agent's declared capabilities.
func (o *Orchestrator) EvaluatePolicy(ctx context.Context, agent *contracts.AgentIdentity, action *contracts.ActionRequest, capability *contracts.CapabilityRequest) (extensions.PolicyResult, error) {
	now := time.Now()
	input := map[string]any{
		"agent_id":       agent.AgentID,
		"trust_score":    agent.TrustScore,
		"trust_band":     agent.TrustBand.String(),
		"time_of_day":    now.Format("15:04"),
		"weekday":        now.Weekday().String(),
		"business_hours": isBusinessHours(now),
	}
	if action != nil {
		input["action_type"] = action.ActionType
	}
	if capability != nil {
		input["capability_domain"] = capability.Domain
		input["capability_level"] = capability.Level
	}
	return o.globalPipeline.EvaluatePolicy(ctx, input)
}

func isBusinessHours(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	h := t.Hour()
	return h >= 9 && h < 17
}
