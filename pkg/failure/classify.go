package failure

import "strings"

// rule is one substring→code classification rule. Rules are evaluated in
// order; the first match wins.
type rule struct {
	substrings []string
	code       Code
}

// blockReasonRules classify a "blocked" reason string produced by a brain or
// a guard. Ordered from most to least specific.
var blockReasonRules = []rule{
	{[]string{"unknown action"}, CodeUnknownAction},
	{[]string{"invalid action params", "schema validation"}, CodeSchemaValidationFailed},
	{[]string{"confidence"}, CodeLowConfidence},
	{[]string{"paused"}, CodeAgentPaused},
	{[]string{"circuit breaker"}, CodeCircuitBreaker},
	{[]string{"safety policy", "policy violation"}, CodePolicyViolation},
	{[]string{"unauthorized", "not authorized"}, CodeUnauthorized},
	{[]string{"insufficient gas", "insufficient funds"}, CodeInsufficientGas},
	{[]string{"insufficient balance", "balance too low", "no balance"}, CodeInsufficientBalance},
	{[]string{"execution reverted"}, CodeChainReverted},
}

// infraRules extend the block-reason rules when classifying arbitrary error
// messages. Checked after the business rules so that e.g. "execution reverted"
// embedded in an RPC error is still a business rejection.
var infraRules = []rule{
	{[]string{"rate limit", "rate-limit", "429", "too many requests"}, CodeRateLimited},
	{[]string{"timeout", "timed out", "deadline exceeded"}, CodeTimeout},
	{[]string{"connection refused", "connection reset", "no such host", "network", "broken pipe", "eof"}, CodeNetwork},
}

// FromViolation maps a guardrail violation code to its failure classification
// by direct table lookup. Unknown violations classify as a generic policy
// rejection rather than an infrastructure failure: a guard fired, so the
// action was denied.
func FromViolation(v ViolationCode) (Category, Code) {
	if code, ok := violationTable[v]; ok {
		return CategoryBusinessRejected, code
	}
	return CategoryBusinessRejected, CodePolicyViolation
}

// FromBlockReason classifies the free-text reason attached to a blocked
// decision. Unmatched reasons fall through to a runtime exception.
func FromBlockReason(reason string) (Category, Code) {
	lower := strings.ToLower(reason)
	for _, r := range blockReasonRules {
		for _, s := range r.substrings {
			if strings.Contains(lower, s) {
				return categoryOf(r.code), r.code
			}
		}
	}
	return CategoryInfrastructure, CodeRuntimeException
}

// FromError classifies an arbitrary error message. Business and model
// patterns are checked first, then the infrastructure patterns; the first
// match wins and unmatched messages classify as a runtime exception.
// FromError is total: it returns a valid pair for every input.
func FromError(msg string) (Category, Code) {
	lower := strings.ToLower(msg)
	for _, r := range blockReasonRules {
		for _, s := range r.substrings {
			if strings.Contains(lower, s) {
				return categoryOf(r.code), r.code
			}
		}
	}
	for _, r := range infraRules {
		for _, s := range r.substrings {
			if strings.Contains(lower, s) {
				return CategoryInfrastructure, r.code
			}
		}
	}
	return CategoryInfrastructure, CodeRuntimeException
}
