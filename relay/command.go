// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/peerlog-foundation/peerlog/lib/codec"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Status is the outcome of a control-plane command.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusNotAuthorized
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotAuthorized:
		return "not_authorized"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Command is a control-plane request addressed to the relay's root
// identity over the ordinary message transport. The caller identity
// comes from the verified message signature, never from the command
// payload.
type Command interface {
	isCommand()
}

// SetPolicyCommand creates or replaces a named policy.
type SetPolicyCommand struct {
	Policy Policy `cbor:"1,keyasint"`
}

// GetPolicyCommand fetches one named policy.
type GetPolicyCommand struct {
	Name string `cbor:"1,keyasint"`
}

// GetPoliciesCommand lists all named policies.
type GetPoliciesCommand struct{}

// SetUserPolicyCommand assigns a named policy to a user.
type SetUserPolicyCommand struct {
	UserId     id.Id  `cbor:"1,keyasint"`
	PolicyName string `cbor:"2,keyasint"`
}

// GetUserPolicyCommand fetches one user's assignment.
type GetUserPolicyCommand struct {
	UserId id.Id `cbor:"1,keyasint"`
}

// GetUserPoliciesCommand lists all assignments.
type GetUserPoliciesCommand struct{}

func (SetPolicyCommand) isCommand() {}
func (GetPolicyCommand) isCommand() {}
func (GetPoliciesCommand) isCommand() {}
func (SetUserPolicyCommand) isCommand() {}
func (GetUserPolicyCommand) isCommand() {}
func (GetUserPoliciesCommand) isCommand() {}

// CommandResponse is the typed reply to any control-plane command.
// Only the fields relevant to the command kind are populated.
type CommandResponse struct {
	Status Status `cbor:"1,keyasint"`

	// Detail describes a non-success outcome.
	Detail string `cbor:"2,keyasint,omitempty"`

	Policy      *Policy            `cbor:"3,keyasint,omitempty"`
	Policies    []Policy           `cbor:"4,keyasint,omitempty"`
	Assignment  *PolicyAssignment  `cbor:"5,keyasint,omitempty"`
	Assignments []PolicyAssignment `cbor:"6,keyasint,omitempty"`
}

// Execute runs a control-plane command on behalf of callerId and maps
// errors to the response status: ErrNotAuthorized becomes
// StatusNotAuthorized, anything else StatusFailure.
func (s *PolicyStore) Execute(ctx context.Context, callerId id.Id, command Command) CommandResponse {
	switch cmd := command.(type) {
	case SetPolicyCommand:
		return respond(s.SetPolicy(ctx, callerId, cmd.Policy))

	case GetPolicyCommand:
		policy, err := s.GetPolicy(ctx, callerId, cmd.Name)
		response := respond(err)
		if err == nil {
			response.Policy = &policy
		}
		return response

	case GetPoliciesCommand:
		policies, err := s.GetPolicies(ctx, callerId)
		response := respond(err)
		response.Policies = policies
		return response

	case SetUserPolicyCommand:
		return respond(s.SetUserPolicy(ctx, callerId, cmd.UserId, cmd.PolicyName))

	case GetUserPolicyCommand:
		assignment, err := s.GetUserPolicy(ctx, callerId, cmd.UserId)
		response := respond(err)
		if err == nil {
			response.Assignment = &assignment
		}
		return response

	case GetUserPoliciesCommand:
		assignments, err := s.GetUserPolicies(ctx, callerId)
		response := respond(err)
		response.Assignments = assignments
		return response

	default:
		return CommandResponse{
			Status: StatusFailure,
			Detail: fmt.Sprintf("unknown command type %T", command),
		}
	}
}

// respond maps an operation error to a command response.
func respond(err error) CommandResponse {
	switch {
	case err == nil:
		return CommandResponse{Status: StatusSuccess}
	case errors.Is(err, ErrNotAuthorized):
		return CommandResponse{Status: StatusNotAuthorized, Detail: err.Error()}
	default:
		return CommandResponse{Status: StatusFailure, Detail: err.Error()}
	}
}

// commandKind tags encoded commands on the admin channel.
type commandKind uint8

const (
	kindSetPolicy commandKind = iota + 1
	kindGetPolicy
	kindGetPolicies
	kindSetUserPolicy
	kindGetUserPolicy
	kindGetUserPolicies
)

// wireCommand is the encoded form of a command: a kind tag and the
// kind-specific payload.
type wireCommand struct {
	Kind    uint8            `cbor:"1,keyasint"`
	Payload codec.RawMessage `cbor:"2,keyasint,omitempty"`
}

// EncodeCommand serializes a command for the admin channel.
func EncodeCommand(command Command) ([]byte, error) {
	var kind commandKind
	switch command.(type) {
	case SetPolicyCommand:
		kind = kindSetPolicy
	case GetPolicyCommand:
		kind = kindGetPolicy
	case GetPoliciesCommand:
		kind = kindGetPolicies
	case SetUserPolicyCommand:
		kind = kindSetUserPolicy
	case GetUserPolicyCommand:
		kind = kindGetUserPolicy
	case GetUserPoliciesCommand:
		kind = kindGetUserPolicies
	default:
		return nil, fmt.Errorf("relay: unknown command type %T", command)
	}

	payload, err := codec.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("relay: encoding command: %w", err)
	}
	encoded, err := codec.Marshal(wireCommand{Kind: uint8(kind), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("relay: encoding command envelope: %w", err)
	}
	return encoded, nil
}

// DecodeCommand parses a command from the admin channel.
func DecodeCommand(data []byte) (Command, error) {
	var wire wireCommand
	if err := codec.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("relay: decoding command envelope: %w", err)
	}

	decode := func(target Command) (Command, error) {
		if err := codec.Unmarshal(wire.Payload, target); err != nil {
			return nil, fmt.Errorf("relay: decoding command payload: %w", err)
		}
		return target, nil
	}

	switch commandKind(wire.Kind) {
	case kindSetPolicy:
		command, err := decode(&SetPolicyCommand{})
		if err != nil {
			return nil, err
		}
		return *command.(*SetPolicyCommand), nil
	case kindGetPolicy:
		command, err := decode(&GetPolicyCommand{})
		if err != nil {
			return nil, err
		}
		return *command.(*GetPolicyCommand), nil
	case kindGetPolicies:
		return GetPoliciesCommand{}, nil
	case kindSetUserPolicy:
		command, err := decode(&SetUserPolicyCommand{})
		if err != nil {
			return nil, err
		}
		return *command.(*SetUserPolicyCommand), nil
	case kindGetUserPolicy:
		command, err := decode(&GetUserPolicyCommand{})
		if err != nil {
			return nil, err
		}
		return *command.(*GetUserPolicyCommand), nil
	case kindGetUserPolicies:
		return GetUserPoliciesCommand{}, nil
	default:
		return nil, fmt.Errorf("relay: unknown command kind %d", wire.Kind)
	}
}

// EncodeCommandResponse serializes a command response.
func EncodeCommandResponse(response CommandResponse) ([]byte, error) {
	encoded, err := codec.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("relay: encoding command response: %w", err)
	}
	return encoded, nil
}

// DecodeCommandResponse parses a command response.
func DecodeCommandResponse(data []byte) (CommandResponse, error) {
	var response CommandResponse
	if err := codec.Unmarshal(data, &response); err != nil {
		return CommandResponse{}, fmt.Errorf("relay: decoding command response: %w", err)
	}
	return response, nil
}
