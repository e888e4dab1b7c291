package gateway

// SwapRequest asks the gateway to spend SOL on a pool's token.
type SwapRequest struct {
	PoolAddress string  `json:"poolAddress"`
	OutputMint  string  `json:"outputMint"`
	AmountSOL   float64 `json:"amountSol"`
	SlippageBps int     `json:"slippageBps"`
}

// SwapReceipt is the result of a confirmed swap.
type SwapReceipt struct {
	SolSpent       float64 `json:"solSpent"`
	TokensReceived float64 `json:"tokensReceived"`
	Signature      string  `json:"signature"`
}

// ClaimReceipt is the result of a confirmed fee claim.
type ClaimReceipt struct {
	AmountSOL float64 `json:"amountSol"`
	Signature string  `json:"signature"`
}

// BurnReceipt is the result of a confirmed burn.
type BurnReceipt struct {
	TokensBurned float64 `json:"tokensBurned"`
	Signature    string  `json:"signature"`
}

// PlatformPool is a pool reported by the launch platform.
type PlatformPool struct {
	PoolAddress string `json:"poolAddress"`
	BaseMint    string `json:"baseMint"`
	QuoteMint   string `json:"quoteMint"`
	PoolType    string `json:"poolType"`
	Creator     string `json:"creator"`
	IsMigrated  bool   `json:"isMigrated"`
}

type balanceResponse struct {
	Amount float64 `json:"amount"`
}

type claimableResponse struct {
	ClaimableSOL float64 `json:"claimableSol"`
}

type burnRequest struct {
	Amount float64 `json:"amount"`
}

type poolsResponse struct {
	Pools []PlatformPool `json:"pools"`
}

type marketCapsRequest struct {
	Mints []string `json:"mints"`
}

type marketCapsResponse struct {
	MarketCaps map[string]float64 `json:"marketCaps"`
}

type errorResponse struct {
	Error string `json:"error"`
}
