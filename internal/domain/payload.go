package domain

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ErrInvalidPayload is returned when a payload cannot be encoded or decoded.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is the typed parameter set of one operation type.
// Payloads travel through retries as a PayloadMap and are decoded at dispatch.
type Payload interface {
	OperationType() OperationType
}

// FeeClaimPayload carries no parameters: the claimable amount is re-read on every attempt.
type FeeClaimPayload struct{}

// BuybackPayload is the SOL amount allocated to a pool's buyback.
type BuybackPayload struct {
	SolAmount float64 `mapstructure:"solAmount"`
}

// BurnPayload is the platform token amount to burn.
type BurnPayload struct {
	TokenAmount float64 `mapstructure:"tokenAmount"`
}

// RegisterPayload describes a discovered pool awaiting registration.
type RegisterPayload struct {
	PoolAddress string `mapstructure:"poolAddress"`
	BaseMint    string `mapstructure:"baseMint"`
	QuoteMint   string `mapstructure:"quoteMint,omitempty"`
	PoolType    string `mapstructure:"poolType,omitempty"`
	Creator     string `mapstructure:"creator,omitempty"`
	IsMigrated  bool   `mapstructure:"isMigrated,omitempty"`
}

func (FeeClaimPayload) OperationType() OperationType { return OperationFeeClaim }
func (BuybackPayload) OperationType() OperationType  { return OperationBuyback }
func (BurnPayload) OperationType() OperationType     { return OperationBurn }
func (RegisterPayload) OperationType() OperationType { return OperationRegister }

// EncodePayload flattens p into its at-rest map form. A nil payload encodes to an empty map.
func EncodePayload(p Payload) (PayloadMap, error) {
	out := PayloadMap{}
	if p == nil {
		return out, nil
	}

	m := map[string]any{}
	if err := mapstructure.Decode(p, &m); err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrInvalidPayload, p.OperationType(), err)
	}
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// DecodePayload converts the at-rest map of an item into its typed variant.
// Numeric fields accept the float64 and string forms produced by JSON round trips.
func DecodePayload(opType OperationType, m PayloadMap) (Payload, error) {
	switch opType {
	case OperationFeeClaim:
		return FeeClaimPayload{}, nil
	case OperationBuyback:
		var p BuybackPayload
		if err := decodeInto(m, &p); err != nil {
			return nil, err
		}
		if p.SolAmount <= 0 {
			return nil, fmt.Errorf("%w: buyback solAmount must be positive", ErrInvalidPayload)
		}
		return p, nil
	case OperationBurn:
		var p BurnPayload
		if err := decodeInto(m, &p); err != nil {
			return nil, err
		}
		if p.TokenAmount <= 0 {
			return nil, fmt.Errorf("%w: burn tokenAmount must be positive", ErrInvalidPayload)
		}
		return p, nil
	case OperationRegister:
		var p RegisterPayload
		if err := decodeInto(m, &p); err != nil {
			return nil, err
		}
		if p.PoolAddress == "" || p.BaseMint == "" {
			return nil, fmt.Errorf("%w: register requires poolAddress and baseMint", ErrInvalidPayload)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, opType)
	}
}

func decodeInto(m PayloadMap, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if decodeErr := decoder.Decode(map[string]any(m)); decodeErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, decodeErr)
	}
	return nil
}
