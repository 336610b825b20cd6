package extensions

import (
	"context"
	"time"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// Decision is a typed outcome tag. Extension hooks return Decision
// values rather than raising errors for ordinary deny/skip outcomes;
// errors are reserved for hook faults (a broken extension), not for
// policy outcomes.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionDeny            Decision = "deny"
	DecisionSkip            Decision = "skip"
)

// decisionPriority orders Decision values for max-priority aggregation:
// allow < require_approval < deny. Skip never outranks a cast vote.
func decisionPriority(d Decision) int {
	switch d {
	case DecisionDeny:
		return 2
	case DecisionRequireApproval:
		return 1
	default:
		return 0
	}
}

// PreCheckResult is one extension's vote on a capability request: an
// allow/deny along with any constraints it wants attached to the grant
// and, on denial, the reason a caller should be told.
type PreCheckResult struct {
	Allow       bool                   `json:"allow"`
	Reason      string                 `json:"reason,omitempty"`
	Constraints []contracts.Constraint `json:"constraints,omitempty"`
}

// Modification is a single dotted-path write a preAction hook asks the
// orchestrator to apply to the action request before dispatch, e.g.
// {Path: "params.amount", Value: 100}.
type Modification struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ApprovalRequirement names why a human (or some out-of-band authority)
// must sign off before an action proceeds, and who is required to give
// it.
type ApprovalRequirement struct {
	Reason     string `json:"reason"`
	RequiredBy string `json:"required_by,omitempty"`
}

// PreActionResult is one extension's vote on an action request: whether
// it may proceed, any field modifications the extension wants applied,
// and any approval it requires before dispatch.
type PreActionResult struct {
	Proceed       bool                  `json:"proceed"`
	Reason        string                `json:"reason,omitempty"`
	Modifications []Modification        `json:"modifications,omitempty"`
	Approvals     []ApprovalRequirement `json:"approvals,omitempty"`
}

// FailurePolicy is the aggregated retry guidance returned from
// onFailure; the orchestrator surfaces it to the caller but never
// retries on its own.
type FailurePolicy struct {
	Retry      bool          `json:"retry"`
	RetryDelay time.Duration `json:"retry_delay,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
	Fallback   any           `json:"fallback,omitempty"`
}

// BehaviorRecommendation ranks verifyBehavior's suggested response to
// observed drift, from least to most severe.
type BehaviorRecommendation int

const (
	RecommendContinue BehaviorRecommendation = iota
	RecommendWarn
	RecommendSuspend
	RecommendRevoke
)

// BehaviorVerification is one extension's read on whether a completed
// action stayed within its expected behavioral envelope.
type BehaviorVerification struct {
	InBounds        bool                    `json:"in_bounds"`
	DriftScore      float64                 `json:"drift_score"`
	DriftCategories []string                `json:"drift_categories,omitempty"`
	Recommendation  BehaviorRecommendation  `json:"recommendation"`
}

// HealthStatus ranks collectMetrics' view of overall health, from best
// to worst.
type HealthStatus int

const (
	HealthHealthy HealthStatus = iota
	HealthDegraded
	HealthUnhealthy
)

// HealthReport is one extension's metrics snapshot for an action.
type HealthReport struct {
	Health HealthStatus   `json:"health"`
	Detail map[string]any `json:"detail,omitempty"`
}

// AnomalyAction ranks onAnomaly's suggested response, from least to
// most severe.
type AnomalyAction int

const (
	AnomalyIgnore AnomalyAction = iota
	AnomalyLog
	AnomalyAlert
	AnomalySuspend
	AnomalyRevoke
)

// AnomalyResponse is one extension's reaction to an observed anomaly.
type AnomalyResponse struct {
	Action     AnomalyAction `json:"action"`
	Notified   []string      `json:"notified,omitempty"`
	Escalated  bool          `json:"escalated"`
}

// PolicyResult is one extension's policy.evaluate vote.
type PolicyResult struct {
	Decision    Decision `json:"decision"`
	Reasons     []string `json:"reasons,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
	Obligations []string `json:"obligations,omitempty"`
}

// CapabilityHooks gate capability grants.
type CapabilityHooks interface {
	PreCheck(ctx context.Context, req contracts.CapabilityRequest) (PreCheckResult, error)
	PostGrant(ctx context.Context, grant contracts.CapabilityGrant) (contracts.CapabilityGrant, error)
}

// ActionHooks gate and observe action execution.
type ActionHooks interface {
	PreAction(ctx context.Context, req contracts.ActionRequest) (PreActionResult, error)
	OnFailure(ctx context.Context, rec contracts.ActionRecord) (FailurePolicy, error)
}

// MonitoringHooks observe behavior after the fact.
type MonitoringHooks interface {
	VerifyBehavior(ctx context.Context, rec contracts.ActionRecord) (BehaviorVerification, error)
	CollectMetrics(ctx context.Context, rec contracts.ActionRecord) (HealthReport, error)
	OnAnomaly(ctx context.Context, rec contracts.ActionRecord) (AnomalyResponse, error)
}

// TrustHooks let an extension propose a trust signal from observed
// behavior, which the Trust Engine (pkg/trust) is free to accept,
// dampen, or ignore.
type TrustHooks interface {
	AdjustTrust(ctx context.Context, rec contracts.ActionRecord) (*contracts.TrustSignal, error)
}

// PolicyHooks evaluate a policy against decision input; CELPolicyHooks
// is the CEL-backed implementation.
type PolicyHooks interface {
	Evaluate(ctx context.Context, input map[string]any) (PolicyResult, error)
}

// LifecycleHooks observe extension install/uninstall transitions.
// Registry.Register and Registry.Unregister do not invoke them.
type LifecycleHooks interface {
	OnInstall(ctx context.Context, descriptor contracts.ExtensionDescriptor) error
	OnUninstall(ctx context.Context, descriptor contracts.ExtensionDescriptor) error
}

// Hooks bundles the optional hook families an extension may implement.
// A nil field means the extension does not participate in that family;
// the has<Hook>() predicates let the dispatcher skip absent hooks
// without a type assertion at every call site.
type Hooks struct {
	Capability CapabilityHooks
	Action     ActionHooks
	Monitoring MonitoringHooks
	Trust      TrustHooks
	Policy     PolicyHooks
	Lifecycle  LifecycleHooks
}

func (h Hooks) hasCapability() bool { return h.Capability != nil }
func (h Hooks) hasAction() bool     { return h.Action != nil }
func (h Hooks) hasMonitoring() bool { return h.Monitoring != nil }
func (h Hooks) hasTrust() bool      { return h.Trust != nil }
func (h Hooks) hasPolicy() bool     { return h.Policy != nil }
func (h Hooks) hasLifecycle() bool  { return h.Lifecycle != nil }
