package domain

// Outcome is the uniform result shared by every task operation.
// Operations report failure here instead of returning an error.
type Outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome {
	return Outcome{Success: true}
}

// Failed returns a failed outcome carrying the error text.
func Failed(err error) Outcome {
	if err == nil {
		return Outcome{Error: "unknown error"}
	}
	return Outcome{Error: err.Error()}
}

// FeeClaimResult is the result of a fee collection attempt.
type FeeClaimResult struct {
	Outcome
	AmountSOL float64 `json:"amount_sol"`
	Signature string  `json:"signature,omitempty"`
}

// BuybackResult is the result of a buyback attempt.
type BuybackResult struct {
	Outcome
	SolSpent       float64 `json:"sol_spent"`
	TokensReceived float64 `json:"tokens_received"`
	Signature      string  `json:"signature,omitempty"`
}

// BurnResult is the result of a burn attempt.
type BurnResult struct {
	Outcome
	TokensBurned float64 `json:"tokens_burned"`
	Signature    string  `json:"signature,omitempty"`
}

// RegisterResult is the result of a pool registration attempt.
type RegisterResult struct {
	Outcome
	Pool    *Pool `json:"pool,omitempty"`
	Created bool  `json:"created"`
}
