package domain

import "time"

// FeeClaim records a successful fee collection from a pool.
type FeeClaim struct {
	ID          string    `db:"id"           json:"id"`
	PoolAddress string    `db:"pool_address" json:"pool_address"`
	AmountSOL   float64   `db:"amount_sol"   json:"amount_sol"`
	Signature   string    `db:"signature"    json:"signature"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}

// Buyback records a swap of SOL for platform tokens.
type Buyback struct {
	ID             string    `db:"id"              json:"id"`
	PoolAddress    string    `db:"pool_address"    json:"pool_address"`
	SolSpent       float64   `db:"sol_spent"       json:"sol_spent"`
	TokensReceived float64   `db:"tokens_received" json:"tokens_received"`
	Signature      string    `db:"signature"       json:"signature"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}

// Burn records destruction of platform tokens.
type Burn struct {
	ID           string    `db:"id"            json:"id"`
	PoolAddress  *string   `db:"pool_address"  json:"pool_address,omitempty"`
	TokensBurned float64   `db:"tokens_burned" json:"tokens_burned"`
	Signature    string    `db:"signature"     json:"signature"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}

// OperationStatus is the result recorded in an operation log entry.
type OperationStatus string

const (
	OperationStatusSuccess OperationStatus = "success"
	OperationStatusFailed  OperationStatus = "failed"
)

// OperationLog is an append-only audit entry for one operation attempt.
type OperationLog struct {
	ID            string          `db:"id"             json:"id"`
	OperationType OperationType   `db:"operation_type" json:"operation_type"`
	PoolAddress   *string         `db:"pool_address"   json:"pool_address,omitempty"`
	Status        OperationStatus `db:"status"         json:"status"`
	Amount        float64         `db:"amount"         json:"amount"`
	Signature     *string         `db:"signature"      json:"signature,omitempty"`
	ErrorMessage  *string         `db:"error_message"  json:"error_message,omitempty"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
}
