package extensions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

type stubCapabilityHooks struct {
	preCheck    PreCheckResult
	preCheckErr error
}

func (s *stubCapabilityHooks) PreCheck(ctx context.Context, req contracts.CapabilityRequest) (PreCheckResult, error) {
	return s.preCheck, s.preCheckErr
}
func (s *stubCapabilityHooks) PostGrant(ctx context.Context, grant contracts.CapabilityGrant) (contracts.CapabilityGrant, error) {
	return grant, nil
}

type slowCapabilityHooks struct{ delay time.Duration }

func (s *slowCapabilityHooks) PreCheck(ctx context.Context, req contracts.CapabilityRequest) (PreCheckResult, error) {
	select {
	case <-time.After(s.delay):
		return PreCheckResult{Allow: true}, nil
	case <-ctx.Done():
		return PreCheckResult{}, ctx.Err()
	}
}
func (s *slowCapabilityHooks) PostGrant(ctx context.Context, grant contracts.CapabilityGrant) (contracts.CapabilityGrant, error) {
	return grant, nil
}

func registryWith(t *testing.T, hooks ...Hooks) *Registry {
	t.Helper()
	validator, err := NewManifestValidator()
	if err != nil {
		t.Fatalf("NewManifestValidator: %v", err)
	}
	reg := NewRegistry(validator)
	for i, h := range hooks {
		doc := map[string]any{
			"extension_id": "ext-" + string(rune('a'+i)),
			"short_code":   "ext",
			"version":      "1.0.0",
			"publisher":    "test",
		}
		if _, err := reg.Register(doc, h); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return reg
}

func TestPipeline_PreCheck_AllAllow(t *testing.T) {
	reg := registryWith(t,
		Hooks{Capability: &stubCapabilityHooks{preCheck: PreCheckResult{Allow: true}}},
		Hooks{Capability: &stubCapabilityHooks{preCheck: PreCheckResult{Allow: true}}},
	)
	p := NewPipeline(reg)
	agg, err := p.PreCheck(context.Background(), contracts.CapabilityRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("PreCheck: %v", err)
	}
	if !agg.Allow {
		t.Fatalf("expected Allow, got %+v", agg)
	}
}

func TestPipeline_PreCheck_OneDenyWins(t *testing.T) {
	reg := registryWith(t,
		Hooks{Capability: &stubCapabilityHooks{preCheck: PreCheckResult{Allow: true}}},
		Hooks{Capability: &stubCapabilityHooks{preCheck: PreCheckResult{Allow: false, Reason: "insufficient level"}}},
	)
	p := NewPipeline(reg)
	agg, err := p.PreCheck(context.Background(), contracts.CapabilityRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("PreCheck: %v", err)
	}
	if agg.Allow {
		t.Fatalf("expected Deny, got %+v", agg)
	}
	if agg.Reason != "insufficient level" {
		t.Fatalf("expected the denying extension's reason to propagate, got %q", agg.Reason)
	}
	if agg.DeniedBy != "ext-b" {
		t.Fatalf("expected denial to name ext-b, got %q", agg.DeniedBy)
	}
}

func TestPipeline_PreCheck_HookErrorFailsClosed(t *testing.T) {
	reg := registryWith(t,
		Hooks{Capability: &stubCapabilityHooks{preCheck: PreCheckResult{Allow: true}, preCheckErr: errors.New("boom")}},
	)
	p := NewPipeline(reg)
	agg, err := p.PreCheck(context.Background(), contracts.CapabilityRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("PreCheck: %v", err)
	}
	if agg.Allow {
		t.Fatalf("expected fail-closed Deny, got %+v", agg)
	}
}

func TestPipeline_PreCheck_NoExtensionsDefaultsAllow(t *testing.T) {
	reg := registryWith(t)
	p := NewPipeline(reg)
	agg, err := p.PreCheck(context.Background(), contracts.CapabilityRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("PreCheck: %v", err)
	}
	if !agg.Allow {
		t.Fatalf("expected default Allow with no voting extensions, got %+v", agg)
	}
}

func TestPipeline_PreCheck_TimesOutSlowHook(t *testing.T) {
	reg := registryWith(t, Hooks{Capability: &slowCapabilityHooks{delay: time.Second}})
	p := NewPipeline(reg)
	saved := hookTimeouts["preCheck"]
	hookTimeouts["preCheck"] = 10 * time.Millisecond
	defer func() { hookTimeouts["preCheck"] = saved }()

	agg, err := p.PreCheck(context.Background(), contracts.CapabilityRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("PreCheck: %v", err)
	}
	if agg.Allow {
		t.Fatalf("expected fail-closed Deny on timeout, got %+v", agg)
	}
}

func TestPipeline_FailFast_StopsAtFirstDeny(t *testing.T) {
	callCount := 0
	countingDeny := &countingHook{result: PreCheckResult{Allow: false}, calls: &callCount}
	countingAllow := &countingHook{result: PreCheckResult{Allow: true}, calls: &callCount}
	reg := registryWith(t,
		Hooks{Capability: countingDeny},
		Hooks{Capability: countingAllow},
	)
	p := NewPipeline(reg)
	p.FailFast = true
	_, _ = p.PreCheck(context.Background(), contracts.CapabilityRequest{AgentID: "a1"})
	if callCount != 1 {
		t.Fatalf("expected fail-fast to stop after first extension, got %d calls", callCount)
	}
}

type countingHook struct {
	result PreCheckResult
	calls  *int
}

func (c *countingHook) PreCheck(ctx context.Context, req contracts.CapabilityRequest) (PreCheckResult, error) {
	*c.calls++
	return c.result, nil
}
func (c *countingHook) PostGrant(ctx context.Context, grant contracts.CapabilityGrant) (contracts.CapabilityGrant, error) {
	return grant, nil
}

func TestPipeline_PreCheck_ConstraintsConcatenate(t *testing.T) {
	reg := registryWith(t,
		Hooks{Capability: &stubCapabilityHooks{preCheck: PreCheckResult{
			Allow:       true,
			Constraints: []contracts.Constraint{{Name: "rate_limit", Params: map[string]string{"rpm": "60"}}},
		}}},
		Hooks{Capability: &stubCapabilityHooks{preCheck: PreCheckResult{
			Allow:       true,
			Constraints: []contracts.Constraint{{Name: "time_window", Params: map[string]string{"window": "business_hours"}}},
		}}},
	)
	p := NewPipeline(reg)
	agg, err := p.PreCheck(context.Background(), contracts.CapabilityRequest{AgentID: "a1"})
	if err != nil {
		t.Fatalf("PreCheck: %v", err)
	}
	if len(agg.Constraints) != 2 {
		t.Fatalf("expected 2 concatenated constraints, got %+v", agg.Constraints)
	}
	if agg.Constraints[0].Name != "rate_limit" || agg.Constraints[1].Name != "time_window" {
		t.Fatalf("expected constraints in extension order, got %+v", agg.Constraints)
	}
}

type foldingCapabilityHooks struct {
	constraint contracts.Constraint
}

func (f *foldingCapabilityHooks) PreCheck(ctx context.Context, req contracts.CapabilityRequest) (PreCheckResult, error) {
	return PreCheckResult{Allow: true}, nil
}
func (f *foldingCapabilityHooks) PostGrant(ctx context.Context, grant contracts.CapabilityGrant) (contracts.CapabilityGrant, error) {
	grant.Constraints = append(grant.Constraints, f.constraint)
	return grant, nil
}

func TestPipeline_PostGrant_FoldsSequentially(t *testing.T) {
	reg := registryWith(t,
		Hooks{Capability: &foldingCapabilityHooks{constraint: contracts.Constraint{Name: "rate_limit"}}},
		Hooks{Capability: &foldingCapabilityHooks{constraint: contracts.Constraint{Name: "time_window"}}},
	)
	p := NewPipeline(reg)
	grant, errs := p.PostGrant(context.Background(), contracts.CapabilityGrant{ID: "g1"})
	if len(errs) != 0 {
		t.Fatalf("unexpected postGrant errors: %v", errs)
	}
	if len(grant.Constraints) != 2 {
		t.Fatalf("expected both folds to apply, got %+v", grant.Constraints)
	}
	if grant.Constraints[0].Name != "rate_limit" || grant.Constraints[1].Name != "time_window" {
		t.Fatalf("expected fold order to match extension order, got %+v", grant.Constraints)
	}
}

type stubPolicyHooks struct {
	result PolicyResult
	err    error
}

func (s *stubPolicyHooks) Evaluate(ctx context.Context, input map[string]any) (PolicyResult, error) {
	return s.result, s.err
}

func TestPipeline_EvaluatePolicy(t *testing.T) {
	reg := registryWith(t, Hooks{Policy: &stubPolicyHooks{result: PolicyResult{Decision: DecisionDeny}}})
	p := NewPipeline(reg)
	res, err := p.EvaluatePolicy(context.Background(), map[string]any{"trust_score": int64(100)})
	if err != nil {
		t.Fatalf("EvaluatePolicy: %v", err)
	}
	if res.Decision != DecisionDeny {
		t.Fatalf("expected Deny, got %s", res.Decision)
	}
}

func TestPipeline_EvaluatePolicy_RequireApprovalAggregation(t *testing.T) {
	reg := registryWith(t,
		Hooks{Policy: &stubPolicyHooks{result: PolicyResult{Decision: DecisionAllow, Reasons: []string{"r1"}}}},
		Hooks{Policy: &stubPolicyHooks{result: PolicyResult{Decision: DecisionRequireApproval, Reasons: []string{"r2"}}}},
	)
	p := NewPipeline(reg)
	res, err := p.EvaluatePolicy(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("EvaluatePolicy: %v", err)
	}
	if res.Decision != DecisionRequireApproval {
		t.Fatalf("expected require_approval, got %s", res.Decision)
	}
	if len(res.Reasons) != 2 {
		t.Fatalf("expected both reasons concatenated, got %v", res.Reasons)
	}
}

func TestPipeline_EvaluatePolicy_DenyBeatsRequireApproval(t *testing.T) {
	reg := registryWith(t,
		Hooks{Policy: &stubPolicyHooks{result: PolicyResult{Decision: DecisionAllow, Reasons: []string{"r1"}}}},
		Hooks{Policy: &stubPolicyHooks{result: PolicyResult{Decision: DecisionRequireApproval, Reasons: []string{"r2"}}}},
		Hooks{Policy: &stubPolicyHooks{result: PolicyResult{Decision: DecisionDeny, Reasons: []string{"r3"}}}},
	)
	p := NewPipeline(reg)
	res, err := p.EvaluatePolicy(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("EvaluatePolicy: %v", err)
	}
	if res.Decision != DecisionDeny {
		t.Fatalf("expected deny to win, got %s", res.Decision)
	}
	if len(res.Reasons) != 3 {
		t.Fatalf("expected all three reasons concatenated in order, got %v", res.Reasons)
	}
	if res.Reasons[0] != "r1" || res.Reasons[1] != "r2" || res.Reasons[2] != "r3" {
		t.Fatalf("expected reasons in extension order, got %v", res.Reasons)
	}
}

type stubTrustHooks struct {
	signal *contracts.TrustSignal
	err    error
}

func (s *stubTrustHooks) AdjustTrust(ctx context.Context, rec contracts.ActionRecord) (*contracts.TrustSignal, error) {
	return s.signal, s.err
}

func TestPipeline_AdjustTrust_CollectsSignals(t *testing.T) {
	sig := &contracts.TrustSignal{Type: "behavioral.task.success", Value: 1.0}
	reg := registryWith(t, Hooks{Trust: &stubTrustHooks{signal: sig}})
	p := NewPipeline(reg)
	signals, errs := p.AdjustTrust(context.Background(), contracts.ActionRecord{ID: "r1"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(signals) != 1 || signals[0].Type != "behavioral.task.success" {
		t.Fatalf("expected one collected signal, got %+v", signals)
	}
}

func TestPipeline_AdjustTrust_CollectsHookErrors(t *testing.T) {
	reg := registryWith(t, Hooks{Trust: &stubTrustHooks{err: errors.New("extension fault")}})
	p := NewPipeline(reg)
	_, errs := p.AdjustTrust(context.Background(), contracts.ActionRecord{ID: "r1"})
	if len(errs) != 1 {
		t.Fatalf("expected one collected error, got %d", len(errs))
	}
}

type stubActionHooks struct {
	preAction PreActionResult
}

func (s *stubActionHooks) PreAction(ctx context.Context, req contracts.ActionRequest) (PreActionResult, error) {
	return s.preAction, nil
}
func (s *stubActionHooks) OnFailure(ctx context.Context, rec contracts.ActionRecord) (FailurePolicy, error) {
	return FailurePolicy{}, nil
}

func TestPipeline_PreAction_BlockedWithApprovalsRequiresApproval(t *testing.T) {
	reg := registryWith(t, Hooks{Action: &stubActionHooks{preAction: PreActionResult{
		Proceed:   false,
		Reason:    "large transfer",
		Approvals: []ApprovalRequirement{{Reason: "large transfer", RequiredBy: "finance"}},
	}}})
	p := NewPipeline(reg)
	agg, err := p.PreAction(context.Background(), contracts.ActionRequest{ActionType: "transfer_funds"})
	if err != nil {
		t.Fatalf("PreAction: %v", err)
	}
	if agg.Proceed {
		t.Fatal("expected proceed=false")
	}
	if !agg.RequiresApproval {
		t.Fatal("expected a blocked outcome with approvals to surface as requires_approval")
	}
	if len(agg.Approvals) != 1 {
		t.Fatalf("expected the approval requirement to propagate, got %+v", agg.Approvals)
	}
}

func TestPipeline_PreAction_ModificationsConcatenate(t *testing.T) {
	reg := registryWith(t,
		Hooks{Action: &stubActionHooks{preAction: PreActionResult{
			Proceed:       true,
			Modifications: []Modification{{Path: "amount", Value: 100}},
		}}},
		Hooks{Action: &stubActionHooks{preAction: PreActionResult{
			Proceed:       true,
			Modifications: []Modification{{Path: "currency", Value: "USD"}},
		}}},
	)
	p := NewPipeline(reg)
	agg, err := p.PreAction(context.Background(), contracts.ActionRequest{ActionType: "transfer_funds"})
	if err != nil {
		t.Fatalf("PreAction: %v", err)
	}
	if len(agg.Modifications) != 2 {
		t.Fatalf("expected 2 concatenated modifications, got %+v", agg.Modifications)
	}
}

type stubFailureHooks struct {
	policy FailurePolicy
}

func (s *stubFailureHooks) PreAction(ctx context.Context, req contracts.ActionRequest) (PreActionResult, error) {
	return PreActionResult{Proceed: true}, nil
}
func (s *stubFailureHooks) OnFailure(ctx context.Context, rec contracts.ActionRecord) (FailurePolicy, error) {
	return s.policy, nil
}

func TestPipeline_OnFailure_AggregatesRetryPolicy(t *testing.T) {
	reg := registryWith(t,
		Hooks{Action: &stubFailureHooks{policy: FailurePolicy{Retry: false, Fallback: "cached"}}},
		Hooks{Action: &stubFailureHooks{policy: FailurePolicy{Retry: true, RetryDelay: 2 * time.Second, MaxRetries: 5}}},
		Hooks{Action: &stubFailureHooks{policy: FailurePolicy{Retry: true, RetryDelay: time.Second, MaxRetries: 2}}},
	)
	p := NewPipeline(reg)
	fp, errs := p.OnFailure(context.Background(), contracts.ActionRecord{ID: "r1"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !fp.Retry {
		t.Fatal("expected retry=true since at least one extension requested it")
	}
	if fp.RetryDelay != time.Second {
		t.Fatalf("expected min retry delay of 1s, got %s", fp.RetryDelay)
	}
	if fp.MaxRetries != 2 {
		t.Fatalf("expected min max-retries of 2, got %d", fp.MaxRetries)
	}
	if fp.Fallback != "cached" {
		t.Fatalf("expected first non-null fallback, got %v", fp.Fallback)
	}
}

type stubMonitoringHooks struct {
	behavior BehaviorVerification
	health   HealthReport
	anomaly  AnomalyResponse
}

func (s *stubMonitoringHooks) VerifyBehavior(ctx context.Context, rec contracts.ActionRecord) (BehaviorVerification, error) {
	return s.behavior, nil
}
func (s *stubMonitoringHooks) CollectMetrics(ctx context.Context, rec contracts.ActionRecord) (HealthReport, error) {
	return s.health, nil
}
func (s *stubMonitoringHooks) OnAnomaly(ctx context.Context, rec contracts.ActionRecord) (AnomalyResponse, error) {
	return s.anomaly, nil
}

func TestPipeline_VerifyBehavior_AggregatesDriftAndSeverity(t *testing.T) {
	reg := registryWith(t,
		Hooks{Monitoring: &stubMonitoringHooks{behavior: BehaviorVerification{
			InBounds: true, DriftScore: 0.2, DriftCategories: []string{"latency"}, Recommendation: RecommendWarn,
		}}},
		Hooks{Monitoring: &stubMonitoringHooks{behavior: BehaviorVerification{
			InBounds: false, DriftScore: 0.9, DriftCategories: []string{"cost"}, Recommendation: RecommendSuspend,
		}}},
	)
	p := NewPipeline(reg)
	agg, errs := p.VerifyBehavior(context.Background(), contracts.ActionRecord{ID: "r1"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if agg.InBounds {
		t.Fatal("expected InBounds=false since one report was out of bounds")
	}
	if agg.DriftScore != 0.9 {
		t.Fatalf("expected max drift score 0.9, got %f", agg.DriftScore)
	}
	if len(agg.DriftCategories) != 2 {
		t.Fatalf("expected union of drift categories, got %v", agg.DriftCategories)
	}
	if agg.Recommendation != RecommendSuspend {
		t.Fatalf("expected max-severity recommendation suspend, got %v", agg.Recommendation)
	}
}

func TestPipeline_CollectMetrics_OverallHealthIsWorst(t *testing.T) {
	reg := registryWith(t,
		Hooks{Monitoring: &stubMonitoringHooks{health: HealthReport{Health: HealthHealthy}}},
		Hooks{Monitoring: &stubMonitoringHooks{health: HealthReport{Health: HealthDegraded}}},
	)
	p := NewPipeline(reg)
	overall, reports, errs := p.CollectMetrics(context.Background(), contracts.ActionRecord{ID: "r1"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if overall != HealthDegraded {
		t.Fatalf("expected worst health degraded, got %v", overall)
	}
	if len(reports) != 2 {
		t.Fatalf("expected both reports retained, got %d", len(reports))
	}
}

func TestPipeline_OnAnomaly_AggregatesActionAndUnion(t *testing.T) {
	reg := registryWith(t,
		Hooks{Monitoring: &stubMonitoringHooks{anomaly: AnomalyResponse{Action: AnomalyLog, Notified: []string{"oncall"}}}},
		Hooks{Monitoring: &stubMonitoringHooks{anomaly: AnomalyResponse{Action: AnomalySuspend, Notified: []string{"security"}, Escalated: true}}},
	)
	p := NewPipeline(reg)
	agg, errs := p.OnAnomaly(context.Background(), contracts.ActionRecord{ID: "r1"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if agg.Action != AnomalySuspend {
		t.Fatalf("expected max-severity action suspend, got %v", agg.Action)
	}
	if len(agg.Notified) != 2 {
		t.Fatalf("expected union of notified parties, got %v", agg.Notified)
	}
	if !agg.Escalated {
		t.Fatal("expected escalated=true since one extension escalated")
	}
}
