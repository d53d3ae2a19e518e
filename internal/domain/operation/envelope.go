package operation

import (
	"encoding/json"
	"fmt"
)

// CommandKind discriminates the operation kinds stored in an envelope.
type CommandKind string

const (
	KindCreateSchedule  CommandKind = "create_schedule"
	KindUpdateSchedule  CommandKind = "update_schedule"
	KindDisableSchedule CommandKind = "disable_schedule"
)

// Command is one of the schedule-change commands the orchestrator executes.
// The envelope must carry everything needed to reconstruct the command
// independent of process memory.
type Command interface {
	Kind() CommandKind
}

type CreateScheduleCommand struct {
	SellerID int64  `json:"seller_id,string"`
	Cadence  string `json:"cadence"`
}

func (CreateScheduleCommand) Kind() CommandKind { return KindCreateSchedule }

type UpdateScheduleCommand struct {
	SellerID int64  `json:"seller_id,string"`
	Cadence  string `json:"cadence"`
	Enabled  bool   `json:"enabled"`
}

func (UpdateScheduleCommand) Kind() CommandKind { return KindUpdateSchedule }

type DisableScheduleCommand struct {
	SellerID int64 `json:"seller_id,string"`
}

func (DisableScheduleCommand) Kind() CommandKind { return KindDisableSchedule }

type envelope struct {
	Kind    CommandKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEnvelope serializes a command with its kind discriminator.
func EncodeEnvelope(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd.Kind(), err)
	}
	return json.Marshal(envelope{Kind: cmd.Kind(), Payload: payload})
}

// DecodeEnvelope reconstructs a command from its stored envelope. Dispatch is
// by kind discriminator, not reflection.
func DecodeEnvelope(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var cmd Command
	switch env.Kind {
	case KindCreateSchedule:
		cmd = &CreateScheduleCommand{}
	case KindUpdateSchedule:
		cmd = &UpdateScheduleCommand{}
	case KindDisableSchedule:
		cmd = &DisableScheduleCommand{}
	default:
		return nil, fmt.Errorf("unknown command kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return cmd, nil
}
