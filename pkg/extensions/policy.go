package extensions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// CELPolicyHooks implements PolicyHooks by compiling and caching CEL
// programs, so repeated evaluation of the same policy expression across
// many requests pays the compile cost once.
type CELPolicyHooks struct {
	env      *cel.Env
	expr     string
	mu       sync.RWMutex
	compiled cel.Program
}

// NewCELPolicyHooks builds a policy.evaluate hook around a single CEL
// expression. The expression must evaluate to a bool; true maps to
// DecisionAllow, false to DecisionDeny.
func NewCELPolicyHooks(expr string) (*CELPolicyHooks, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.DynType),
		cel.Variable("agent", cel.DynType),
		cel.Variable("trust_score", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("extensions: cel environment: %w", err)
	}
	return &CELPolicyHooks{env: env, expr: expr}, nil
}

func (h *CELPolicyHooks) program() (cel.Program, error) {
	h.mu.RLock()
	if h.compiled != nil {
		prg := h.compiled
		h.mu.RUnlock()
		return prg, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.compiled != nil {
		return h.compiled, nil
	}

	ast, issues := h.env.Compile(h.expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("extensions: policy compile: %w", issues.Err())
	}
	prg, err := h.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("extensions: policy program: %w", err)
	}
	h.compiled = prg
	return prg, nil
}

func (h *CELPolicyHooks) Evaluate(ctx context.Context, input map[string]any) (PolicyResult, error) {
	prg, err := h.program()
	if err != nil {
		return PolicyResult{Decision: DecisionDeny}, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return PolicyResult{Decision: DecisionDeny}, fmt.Errorf("extensions: policy eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return PolicyResult{Decision: DecisionDeny}, fmt.Errorf("extensions: policy expression did not evaluate to bool")
	}
	if allowed {
		return PolicyResult{Decision: DecisionAllow}, nil
	}
	return PolicyResult{Decision: DecisionDeny, Reasons: []string{"policy expression " + h.expr + " evaluated false"}}, nil
}

// PolicyInput assembles the CEL evaluation context for a capability or
// action decision.
func PolicyInput(req contracts.CapabilityRequest, agent *contracts.AgentIdentity, trustScore int) map[string]any {
	return map[string]any{
		"request": map[string]any{
			"agent_id":    req.AgentID,
			"domain":      req.Domain,
			"level":       req.Level,
			"ttl_seconds": req.TTL.Seconds(),
		},
		"agent": map[string]any{
			"agent_id":         agent.AgentID,
			"competence_level": agent.CompetenceLevel,
			"domain_mask":      agent.DomainMask,
			"revoked":          agent.IsRevoked(),
		},
		"trust_score": int64(trustScore),
	}
}
