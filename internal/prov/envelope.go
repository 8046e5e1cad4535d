package prov

import (
	"encoding/json"
	"fmt"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// envelope is the canonical wire/storage form of an Operation: a kind tag
// plus the concrete struct's fields. encoding/json already sorts map keys
// and we never embed time.Time directly (Timestamp handles RFC3339 UTC
// millisecond formatting), so MarshalOperation/ParseOperation round-trips
// are byte-deterministic across replicas (spec.md §4.5 Determinism).
type envelope struct {
	Kind OpKind          `json:"kind"`
	Op   json.RawMessage `json:"op"`
}

// MarshalOperation canonicalizes a single operation to its envelope form.
func MarshalOperation(op Operation) ([]byte, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return nil, cherrors.UnparseablePayload(err)
	}
	return json.Marshal(envelope{Kind: op.Kind(), Op: raw})
}

// MarshalOperations canonicalizes an ordered batch of operations.
func MarshalOperations(ops []Operation) ([]byte, error) {
	envs := make([]envelope, len(ops))
	for i, op := range ops {
		raw, err := json.Marshal(op)
		if err != nil {
			return nil, cherrors.UnparseablePayload(err)
		}
		envs[i] = envelope{Kind: op.Kind(), Op: raw}
	}
	return json.Marshal(envs)
}

// ParseOperation parses a single envelope-form operation.
func ParseOperation(data []byte) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, cherrors.UnparseablePayload(err)
	}
	return decodeOperation(env)
}

// ParseOperations parses an ordered batch of envelope-form operations.
func ParseOperations(data []byte) ([]Operation, error) {
	var envs []envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, cherrors.UnparseablePayload(err)
	}
	ops := make([]Operation, len(envs))
	for i, env := range envs {
		op, err := decodeOperation(env)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

func decodeOperation(env envelope) (Operation, error) {
	unmarshal := func(v interface{}) error {
		if err := json.Unmarshal(env.Op, v); err != nil {
			return cherrors.UnparseablePayload(err)
		}
		return nil
	}

	switch env.Kind {
	case OpCreateNamespace:
		var v CreateNamespace
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpAgentExists:
		var v AgentExists
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpActivityExists:
		var v ActivityExists
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpEntityExists:
		var v EntityExists
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpActsOnBehalfOf:
		var v ActsOnBehalfOf
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpRegisterKey:
		var v RegisterKey
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpWasAssociatedWith:
		var v WasAssociatedWith
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpWasAttributedTo:
		var v WasAttributedTo
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpUsed:
		var v Used
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpActivityUses:
		var v ActivityUses
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpWasGeneratedBy:
		var v WasGeneratedBy
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpWasDerivedFrom:
		var v WasDerivedFrom
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpWasInformedBy:
		var v WasInformedBy
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpStartActivity:
		var v StartActivity
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpEndActivity:
		var v EndActivity
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpSetAttributes:
		var v SetAttributes
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	case OpWasAssociatedWithAttachment:
		var v WasAssociatedWithAttachment
		if err := unmarshal(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, cherrors.UnknownKind(fmt.Sprintf("%s", env.Kind))
	}
}
