package guardrails

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// ActionValidator is the on-chain validateAction view. Implementations
// return (true, "") when no validator contract is configured.
type ActionValidator interface {
	ValidateAction(ctx context.Context, ec *models.ExecutionContext) (ok bool, reason string, err error)
}

// HardPolicy consults the on-chain validator contract. A nil validator makes
// the layer a no-op. Reverts during the view call are denials, not
// infrastructure failures: the contract refused to even evaluate the action.
type HardPolicy struct {
	validator ActionValidator
}

func NewHardPolicy(validator ActionValidator) *HardPolicy {
	return &HardPolicy{validator: validator}
}

func (h *HardPolicy) Name() string { return "hard_policy" }

func (h *HardPolicy) Check(ctx context.Context, ec *models.ExecutionContext) ([]models.Violation, error) {
	if h.validator == nil {
		return nil, nil
	}
	ok, reason, err := h.validator.ValidateAction(ctx, ec)
	if err != nil {
		var rev interface{ Revert() string }
		if errors.As(err, &rev) {
			return violation(failure.ViolationHardSimulationFail,
				fmt.Sprintf("validator reverted: %s", rev.Revert())), nil
		}
		return nil, fmt.Errorf("calling on-chain validator: %w", err)
	}
	if !ok {
		if reason == "" {
			reason = "rejected by on-chain policy"
		}
		return violation(failure.ViolationHardRejected, reason), nil
	}
	return nil, nil
}
