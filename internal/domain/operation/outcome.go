package operation

import (
	"encoding/json"
	"fmt"
)

// OutcomeResult is the decided result of an operation, recorded ahead of the
// external call so a recovery sweep can finalize without re-deriving it.
type OutcomeResult string

const (
	OutcomeOk    OutcomeResult = "ok"
	OutcomeRetry OutcomeResult = "retry"
	OutcomeFail  OutcomeResult = "fail"
)

// Outcome is the write-ahead payload persisted in wal_outcome.
type Outcome struct {
	Result   OutcomeResult `json:"result"`
	RuleName string        `json:"rule_name,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

func Ok(ruleName string) Outcome {
	return Outcome{Result: OutcomeOk, RuleName: ruleName}
}

func Retry(reason string) Outcome {
	return Outcome{Result: OutcomeRetry, Reason: reason}
}

func Fail(reason string) Outcome {
	return Outcome{Result: OutcomeFail, Reason: reason}
}

// FinalState maps a decided outcome to the terminal operation state it
// implies. Retry has no terminal state and returns false.
func (o Outcome) FinalState() (OpState, bool) {
	switch o.Result {
	case OutcomeOk:
		return StateCompleted, true
	case OutcomeFail:
		return StateFailed, true
	default:
		return "", false
	}
}

func (o Outcome) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

func UnmarshalOutcome(raw []byte) (Outcome, error) {
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return Outcome{}, fmt.Errorf("decode write-ahead outcome: %w", err)
	}
	switch out.Result {
	case OutcomeOk, OutcomeRetry, OutcomeFail:
		return out, nil
	default:
		return Outcome{}, fmt.Errorf("unknown outcome result %q", out.Result)
	}
}
