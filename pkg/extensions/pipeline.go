package extensions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// hookTimeouts bounds how long the pipeline waits on a single extension's
// hook before treating it as failed. preCheck/preAction gate a live
// request and get the tightest budget; monitoring/metrics hooks run off
// the hot path and get more room.
var hookTimeouts = map[string]time.Duration{
	"preCheck":        100 * time.Millisecond,
	"postGrant":       100 * time.Millisecond,
	"preAction":       200 * time.Millisecond,
	"onFailure":       200 * time.Millisecond,
	"verifyBehavior":  5000 * time.Millisecond,
	"collectMetrics":  5000 * time.Millisecond,
	"onAnomaly":       1000 * time.Millisecond,
	"adjustTrust":     200 * time.Millisecond,
	"policy.evaluate": 500 * time.Millisecond,
}

// registrySource is the minimal view a Pipeline needs over an
// extension set; *Registry satisfies it directly, and scopedRegistry
// lets a caller narrow a pipeline run to a fixed subset.
type registrySource interface {
	All() []*Registration
}

type scopedRegistry []*Registration

func (s scopedRegistry) All() []*Registration { return s }

// FailFast, when set on a Pipeline, stops evaluating further extensions
// the moment one returns a negative outcome instead of collecting every
// extension's vote.
type Pipeline struct {
	registry registrySource
	FailFast bool
}

func NewPipeline(registry *Registry) *Pipeline {
	return &Pipeline{registry: registry}
}

// NewScopedPipeline builds a pipeline that only ever dispatches to regs,
// e.g. the subset of the full registry an agent's ACI extension
// short-codes declare.
func NewScopedPipeline(regs []*Registration, failFast bool) *Pipeline {
	return &Pipeline{registry: scopedRegistry(regs), FailFast: failFast}
}

// runWithTimeout executes fn under the hook's configured timeout,
// returning the zero value of T and a timeout error if it does not
// complete in time.
func runWithTimeout[T any](ctx context.Context, hookName string, fn func(ctx context.Context) (T, error)) (T, error) {
	timeout, ok := hookTimeouts[hookName]
	if !ok {
		timeout = time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(hctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-hctx.Done():
		var zero T
		return zero, fmt.Errorf("extensions: hook %q timed out after %s", hookName, timeout)
	}
}

func dedupSorted(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}

// --- capability.preCheck ----------------------------------------------

// preCheckOutcome pairs one extension's preCheck vote with its identity,
// so aggregation can name the first denial.
type preCheckOutcome struct {
	ExtensionID string
	Result      PreCheckResult
	Err         error
}

// PreCheckAggregate is the combined preCheck result across every
// CapabilityHooks extension: allow iff every result allows, with
// constraints concatenated in extension order and the first denial's
// extension and reason surfaced.
type PreCheckAggregate struct {
	Allow       bool
	DeniedBy    string
	Reason      string
	Constraints []contracts.Constraint
}

func aggregatePreCheck(outcomes []preCheckOutcome) PreCheckAggregate {
	var agg PreCheckAggregate
	agg.Allow = true
	for _, o := range outcomes {
		if o.Err != nil {
			if agg.Allow {
				agg.Allow = false
				agg.DeniedBy = o.ExtensionID
				agg.Reason = "Extension error: " + o.Err.Error()
			}
			continue
		}
		if !o.Result.Allow {
			if agg.Allow {
				agg.Allow = false
				agg.DeniedBy = o.ExtensionID
				agg.Reason = o.Result.Reason
			}
			continue
		}
		agg.Constraints = append(agg.Constraints, o.Result.Constraints...)
	}
	return agg
}

// PreCheck runs the preCheck hook across every extension that declares
// CapabilityHooks, honoring FailFast, and returns the aggregated result.
func (p *Pipeline) PreCheck(ctx context.Context, req contracts.CapabilityRequest) (PreCheckAggregate, error) {
	outcomes := p.preCheckOutcomes(ctx, req)
	return aggregatePreCheck(outcomes), nil
}

func (p *Pipeline) preCheckOutcomes(ctx context.Context, req contracts.CapabilityRequest) []preCheckOutcome {
	var outcomes []preCheckOutcome
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasCapability() {
			continue
		}
		r, err := runWithTimeout(ctx, "preCheck", func(hctx context.Context) (PreCheckResult, error) {
			return reg.Hooks.Capability.PreCheck(hctx, req)
		})
		outcomes = append(outcomes, preCheckOutcome{ExtensionID: reg.Descriptor.ExtensionID, Result: r, Err: err})
		if p.FailFast && (err != nil || !r.Allow) {
			break
		}
	}
	return outcomes
}

// PostGrant folds the postGrant hook sequentially over every
// CapabilityHooks extension: each extension receives the grant as
// modified by its predecessors. A hook error or timeout leaves the
// grant unchanged for that extension and the fold continues, since the
// capability has already been issued by this point.
func (p *Pipeline) PostGrant(ctx context.Context, grant contracts.CapabilityGrant) (contracts.CapabilityGrant, []error) {
	var errs []error
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasCapability() {
			continue
		}
		next, err := runWithTimeout(ctx, "postGrant", func(hctx context.Context) (contracts.CapabilityGrant, error) {
			return reg.Hooks.Capability.PostGrant(hctx, grant)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("extensions: postGrant(%s): %w", reg.Descriptor.ExtensionID, err))
			continue
		}
		grant = next
	}
	return grant, errs
}

// --- action.preAction ---------------------------------------------------

type preActionOutcome struct {
	ExtensionID string
	Result      PreActionResult
	Err         error
}

// PreActionAggregate is the combined preAction result across every
// ActionHooks extension: proceed iff every result proceeds, with
// modifications and approval requirements concatenated in extension
// order. A block accompanied by approvals is a requires-approval
// outcome rather than an outright block.
type PreActionAggregate struct {
	Proceed          bool
	RequiresApproval bool
	BlockedBy        string
	Reason           string
	Modifications    []Modification
	Approvals        []ApprovalRequirement
}

func aggregatePreAction(outcomes []preActionOutcome) PreActionAggregate {
	var agg PreActionAggregate
	agg.Proceed = true
	for _, o := range outcomes {
		if o.Err != nil {
			if agg.Proceed {
				agg.Proceed = false
				agg.BlockedBy = o.ExtensionID
				agg.Reason = "Extension error: " + o.Err.Error()
			}
			continue
		}
		agg.Modifications = append(agg.Modifications, o.Result.Modifications...)
		agg.Approvals = append(agg.Approvals, o.Result.Approvals...)
		if !o.Result.Proceed && agg.Proceed {
			agg.Proceed = false
			agg.BlockedBy = o.ExtensionID
			agg.Reason = o.Result.Reason
		}
	}
	if !agg.Proceed && len(agg.Approvals) > 0 {
		agg.RequiresApproval = true
	}
	return agg
}

// PreAction runs the preAction hook across every ActionHooks extension.
func (p *Pipeline) PreAction(ctx context.Context, req contracts.ActionRequest) (PreActionAggregate, error) {
	outcomes := p.preActionOutcomes(ctx, req)
	return aggregatePreAction(outcomes), nil
}

func (p *Pipeline) preActionOutcomes(ctx context.Context, req contracts.ActionRequest) []preActionOutcome {
	var outcomes []preActionOutcome
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasAction() {
			continue
		}
		r, err := runWithTimeout(ctx, "preAction", func(hctx context.Context) (PreActionResult, error) {
			return reg.Hooks.Action.PreAction(hctx, req)
		})
		outcomes = append(outcomes, preActionOutcome{ExtensionID: reg.Descriptor.ExtensionID, Result: r, Err: err})
		if p.FailFast && (err != nil || !r.Proceed) {
			break
		}
	}
	return outcomes
}

// --- action.onFailure -----------------------------------------------

// aggregateFailurePolicy folds per-extension retry guidance: retry iff
// any extension requests it, retryDelay/maxRetries are the minimum
// suggested by the extensions that requested retry, and fallback is the
// first non-nil value offered.
func aggregateFailurePolicy(policies []FailurePolicy) FailurePolicy {
	var agg FailurePolicy
	haveDelay, haveRetries := false, false
	for _, fp := range policies {
		if fp.Fallback != nil && agg.Fallback == nil {
			agg.Fallback = fp.Fallback
		}
		if !fp.Retry {
			continue
		}
		agg.Retry = true
		if fp.RetryDelay > 0 && (!haveDelay || fp.RetryDelay < agg.RetryDelay) {
			agg.RetryDelay = fp.RetryDelay
			haveDelay = true
		}
		if fp.MaxRetries > 0 && (!haveRetries || fp.MaxRetries < agg.MaxRetries) {
			agg.MaxRetries = fp.MaxRetries
			haveRetries = true
		}
	}
	return agg
}

// OnFailure is an ambient observation hook: it never gates a decision,
// so a hook error or timeout just skips that extension's vote. It
// aggregates a retry policy the caller may act on; the pipeline and
// orchestrator never retry on their own.
func (p *Pipeline) OnFailure(ctx context.Context, rec contracts.ActionRecord) (FailurePolicy, []error) {
	var policies []FailurePolicy
	var errs []error
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasAction() {
			continue
		}
		fp, err := runWithTimeout(ctx, "onFailure", func(hctx context.Context) (FailurePolicy, error) {
			return reg.Hooks.Action.OnFailure(hctx, rec)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("extensions: onFailure(%s): %w", reg.Descriptor.ExtensionID, err))
			continue
		}
		policies = append(policies, fp)
	}
	return aggregateFailurePolicy(policies), errs
}

// --- monitoring ----------------------------------------------------

// severityRank maps a BehaviorRecommendation to its ordinal severity;
// the type's own iota ordering already matches continue<warn<suspend<revoke.
func severityRank(r BehaviorRecommendation) int { return int(r) }

func aggregateBehavior(reports []BehaviorVerification) BehaviorVerification {
	var agg BehaviorVerification
	agg.InBounds = true
	var categories []string
	for _, r := range reports {
		if !r.InBounds {
			agg.InBounds = false
		}
		if r.DriftScore > agg.DriftScore {
			agg.DriftScore = r.DriftScore
		}
		categories = append(categories, r.DriftCategories...)
		if severityRank(r.Recommendation) > severityRank(agg.Recommendation) {
			agg.Recommendation = r.Recommendation
		}
	}
	agg.DriftCategories = dedupSorted(categories)
	return agg
}

// VerifyBehavior is an ambient observation hook: a hook error or timeout
// skips that extension's vote rather than gating the decision.
func (p *Pipeline) VerifyBehavior(ctx context.Context, rec contracts.ActionRecord) (BehaviorVerification, []error) {
	var reports []BehaviorVerification
	var errs []error
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasMonitoring() {
			continue
		}
		r, err := runWithTimeout(ctx, "verifyBehavior", func(hctx context.Context) (BehaviorVerification, error) {
			return reg.Hooks.Monitoring.VerifyBehavior(hctx, rec)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("extensions: verifyBehavior(%s): %w", reg.Descriptor.ExtensionID, err))
			continue
		}
		reports = append(reports, r)
	}
	return aggregateBehavior(reports), errs
}

func aggregateMetrics(reports []HealthReport) (HealthStatus, []HealthReport) {
	worst := HealthHealthy
	for _, r := range reports {
		if r.Health > worst {
			worst = r.Health
		}
	}
	return worst, reports
}

// CollectMetrics is an ambient observation hook: overallHealth is the
// worst health reported by any extension, and every individual report
// is retained (none are dropped in aggregation).
func (p *Pipeline) CollectMetrics(ctx context.Context, rec contracts.ActionRecord) (HealthStatus, []HealthReport, []error) {
	var reports []HealthReport
	var errs []error
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasMonitoring() {
			continue
		}
		r, err := runWithTimeout(ctx, "collectMetrics", func(hctx context.Context) (HealthReport, error) {
			return reg.Hooks.Monitoring.CollectMetrics(hctx, rec)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("extensions: collectMetrics(%s): %w", reg.Descriptor.ExtensionID, err))
			continue
		}
		reports = append(reports, r)
	}
	overall, all := aggregateMetrics(reports)
	return overall, all, errs
}

func anomalyRank(a AnomalyAction) int { return int(a) }

func aggregateAnomaly(responses []AnomalyResponse) AnomalyResponse {
	var agg AnomalyResponse
	var notified []string
	for _, r := range responses {
		if anomalyRank(r.Action) > anomalyRank(agg.Action) {
			agg.Action = r.Action
		}
		notified = append(notified, r.Notified...)
		if r.Escalated {
			agg.Escalated = true
		}
	}
	agg.Notified = dedupSorted(notified)
	return agg
}

// OnAnomaly is an ambient observation hook: action is the most severe
// response requested by any extension, notified is the union of
// parties named, and escalated is true if any extension escalated.
func (p *Pipeline) OnAnomaly(ctx context.Context, rec contracts.ActionRecord) (AnomalyResponse, []error) {
	var responses []AnomalyResponse
	var errs []error
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasMonitoring() {
			continue
		}
		r, err := runWithTimeout(ctx, "onAnomaly", func(hctx context.Context) (AnomalyResponse, error) {
			return reg.Hooks.Monitoring.OnAnomaly(hctx, rec)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("extensions: onAnomaly(%s): %w", reg.Descriptor.ExtensionID, err))
			continue
		}
		responses = append(responses, r)
	}
	return aggregateAnomaly(responses), errs
}

// AdjustTrust collects every extension's proposed trust signal for the
// caller to forward into pkg/trust; the pipeline itself never talks to
// the Trust Engine directly, keeping the two packages decoupled.
func (p *Pipeline) AdjustTrust(ctx context.Context, rec contracts.ActionRecord) ([]*contracts.TrustSignal, []error) {
	var signals []*contracts.TrustSignal
	var errs []error
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasTrust() {
			continue
		}
		sig, err := runWithTimeout(ctx, "adjustTrust", func(hctx context.Context) (*contracts.TrustSignal, error) {
			return reg.Hooks.Trust.AdjustTrust(hctx, rec)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("extensions: adjustTrust(%s): %w", reg.Descriptor.ExtensionID, err))
			continue
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals, errs
}

// --- policy.evaluate -------------------------------------------------

type policyOutcome struct {
	ExtensionID string
	Result      PolicyResult
	Err         error
}

func aggregatePolicy(outcomes []policyOutcome) PolicyResult {
	var agg PolicyResult
	for _, o := range outcomes {
		if o.Err != nil {
			if decisionPriority(DecisionDeny) > decisionPriority(agg.Decision) {
				agg.Decision = DecisionDeny
			}
			agg.Reasons = append(agg.Reasons, "Extension error: "+o.Err.Error())
			continue
		}
		if decisionPriority(o.Result.Decision) > decisionPriority(agg.Decision) {
			agg.Decision = o.Result.Decision
		}
		agg.Reasons = append(agg.Reasons, o.Result.Reasons...)
		agg.Evidence = append(agg.Evidence, o.Result.Evidence...)
		agg.Obligations = append(agg.Obligations, o.Result.Obligations...)
	}
	if agg.Decision == "" {
		agg.Decision = DecisionAllow
	}
	return agg
}

// EvaluatePolicy runs every extension's policy.evaluate hook and
// combines the votes by max priority (allow < require_approval < deny),
// concatenating reasons, evidence, and obligations in extension order.
func (p *Pipeline) EvaluatePolicy(ctx context.Context, input map[string]any) (PolicyResult, error) {
	var outcomes []policyOutcome
	for _, reg := range p.registry.All() {
		if !reg.Hooks.hasPolicy() {
			continue
		}
		r, err := runWithTimeout(ctx, "policy.evaluate", func(hctx context.Context) (PolicyResult, error) {
			return reg.Hooks.Policy.Evaluate(hctx, input)
		})
		outcomes = append(outcomes, policyOutcome{ExtensionID: reg.Descriptor.ExtensionID, Result: r, Err: err})
		if p.FailFast && (err != nil || r.Decision == DecisionDeny) {
			break
		}
	}
	return aggregatePolicy(outcomes), nil
}
