// Package failure defines the failure taxonomy for agent cycles: every error,
// policy violation, or blocked decision maps to exactly one (category, code)
// pair. Categories decide retry behavior; codes are stable machine-readable
// identifiers persisted with each run.
package failure

// Category is the coarse failure class. Only infrastructure failures are
// retryable; model and business failures are final for the cycle.
type Category string

const (
	// CategoryModelOutput covers decisions the brain should never have
	// produced: unknown actions, schema violations, low confidence.
	CategoryModelOutput Category = "model_output_error"

	// CategoryBusinessRejected covers actions denied by policy or by the
	// chain itself: guardrail violations, reverts, paused agents.
	CategoryBusinessRejected Category = "business_rejected"

	// CategoryInfrastructure covers transient environmental failures:
	// rate limits, timeouts, network errors, runtime exceptions.
	CategoryInfrastructure Category = "infrastructure_error"
)

// Code identifies a specific failure within a category.
type Code string

const (
	CodeUnknownAction          Code = "MODEL_UNKNOWN_ACTION"
	CodeSchemaValidationFailed Code = "MODEL_SCHEMA_VALIDATION_FAILED"
	CodeLowConfidence          Code = "MODEL_LOW_CONFIDENCE"
	CodeMalformedOutput        Code = "MODEL_MALFORMED_OUTPUT"

	CodePolicyAllowedDex         Code = "BUSINESS_POLICY_ALLOWED_DEX"
	CodePolicyMaxTradeAmount     Code = "BUSINESS_POLICY_MAX_TRADE_AMOUNT"
	CodePolicyCooldown           Code = "BUSINESS_POLICY_COOLDOWN"
	CodePolicyMaxRunsPerDay      Code = "BUSINESS_POLICY_MAX_RUNS_PER_DAY"
	CodePolicyMaxDailyAmount     Code = "BUSINESS_POLICY_MAX_DAILY_AMOUNT"
	CodePolicyAllowedTokens      Code = "BUSINESS_POLICY_ALLOWED_TOKENS"
	CodePolicyBlockedTokens      Code = "BUSINESS_POLICY_BLOCKED_TOKENS"
	CodePolicyMaxSlippageBps     Code = "BUSINESS_POLICY_MAX_SLIPPAGE_BPS"
	CodePolicyRejected           Code = "BUSINESS_POLICY_REJECTED"
	CodePolicySimulationReverted Code = "BUSINESS_POLICY_SIMULATION_REVERTED"
	CodePolicyViolation          Code = "BUSINESS_POLICY_VIOLATION"
	CodeChainReverted            Code = "BUSINESS_CHAIN_REVERTED"
	CodeAgentPaused              Code = "BUSINESS_AGENT_PAUSED"
	CodeCircuitBreaker           Code = "BUSINESS_CIRCUIT_BREAKER"
	CodeInsufficientGas          Code = "BUSINESS_INSUFFICIENT_GAS"
	CodeInsufficientBalance      Code = "BUSINESS_INSUFFICIENT_BALANCE"
	CodeUnauthorized             Code = "BUSINESS_UNAUTHORIZED"

	CodeRateLimited      Code = "INFRA_RATE_LIMITED"
	CodeTimeout          Code = "INFRA_TIMEOUT"
	CodeNetwork          Code = "INFRA_NETWORK"
	CodeRuntimeException Code = "INFRA_RUNTIME_EXCEPTION"
)

// ViolationCode identifies a guardrail check in the soft/hard policy space.
// Violation codes are persisted verbatim on blocked runs and map to a
// (Category, Code) pair via FromViolation.
type ViolationCode string

const (
	ViolationAllowedDex         ViolationCode = "SOFT_ALLOWED_DEX"
	ViolationMaxTradeAmount     ViolationCode = "SOFT_MAX_TRADE_AMOUNT"
	ViolationCooldown           ViolationCode = "SOFT_COOLDOWN"
	ViolationMaxRunsPerDay      ViolationCode = "SOFT_MAX_RUNS_PER_DAY"
	ViolationMaxDailyAmount     ViolationCode = "SOFT_MAX_DAILY_AMOUNT"
	ViolationAllowedTokens      ViolationCode = "SOFT_ALLOWED_TOKENS"
	ViolationBlockedTokens      ViolationCode = "SOFT_BLOCKED_TOKENS"
	ViolationMaxSlippageBps     ViolationCode = "SOFT_MAX_SLIPPAGE_BPS"
	ViolationHardRejected       ViolationCode = "HARD_POLICY_REJECTED"
	ViolationHardSimulationFail ViolationCode = "HARD_SIMULATION_REVERTED"
)

// violationTable maps every guardrail violation to its failure code.
// All policy violations are business rejections.
var violationTable = map[ViolationCode]Code{
	ViolationAllowedDex:         CodePolicyAllowedDex,
	ViolationMaxTradeAmount:     CodePolicyMaxTradeAmount,
	ViolationCooldown:           CodePolicyCooldown,
	ViolationMaxRunsPerDay:      CodePolicyMaxRunsPerDay,
	ViolationMaxDailyAmount:     CodePolicyMaxDailyAmount,
	ViolationAllowedTokens:      CodePolicyAllowedTokens,
	ViolationBlockedTokens:      CodePolicyBlockedTokens,
	ViolationMaxSlippageBps:     CodePolicyMaxSlippageBps,
	ViolationHardRejected:       CodePolicyRejected,
	ViolationHardSimulationFail: CodePolicySimulationReverted,
}

// categoryOf returns the category a code belongs to, derived from its prefix.
func categoryOf(code Code) Category {
	switch {
	case len(code) >= 6 && code[:6] == "MODEL_":
		return CategoryModelOutput
	case len(code) >= 9 && code[:9] == "BUSINESS_":
		return CategoryBusinessRejected
	default:
		return CategoryInfrastructure
	}
}

// Retryable reports whether failures in the category may be retried.
func (c Category) Retryable() bool {
	return c == CategoryInfrastructure
}
