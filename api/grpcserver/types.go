package grpcserver

// Amounts travel as base-10 integer strings in the chain's smallest unit.

type EnrollRequest struct {
	Fee        string `json:"fee"`
	Collateral string `json:"collateral"`
}

type RepositionRequest struct {
	Fee string `json:"fee"`
}

type RemoveRequest struct{}

type AdjustCollateralRequest struct {
	// Target is the desired total collateral, not a delta.
	Target string `json:"target"`
}

// TransitionResponse reports a settled operation. Submitted is false when
// the operation was a no-op.
type TransitionResponse struct {
	OpID        string `json:"opId,omitempty"`
	Op          string `json:"op,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Submitted   bool   `json:"submitted"`
	TxHash      string `json:"txHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

type StateRequest struct{}

type StateResponse struct {
	Relayer string `json:"relayer"`
	Chain   string `json:"chain"`
	State   string `json:"state"`
}

type OrderBookRequest struct {
	// Refresh reads the registry instead of serving the cached book.
	Refresh            bool   `json:"refresh,omitempty"`
	// Orders and CollateralPerOrder, when set, ask for the market fee of
	// an order assigned to that many relayers.
	Orders             int    `json:"orders,omitempty"`
	CollateralPerOrder string `json:"collateralPerOrder,omitempty"`
}

type BookEntry struct {
	Position   int    `json:"position"`
	Address    string `json:"address"`
	Fee        string `json:"fee"`
	Collateral string `json:"collateral"`
	Locked     string `json:"locked"`
	Free       string `json:"free"`
}

type OrderBookResponse struct {
	Height    uint64      `json:"height"`
	ReadAt    int64       `json:"readAt"`
	Relayers  []BookEntry `json:"relayers"`
	MarketFee string      `json:"marketFee,omitempty"`
	// Position is the 1-based rank of the served relayer, 0 if absent.
	Position  int         `json:"position"`
}

type BalanceRequest struct {
	// Address defaults to the served relayer.
	Address string `json:"address,omitempty"`
}

type BalanceResponse struct {
	Address   string `json:"address"`
	Total     string `json:"total"`
	Available string `json:"available"`
}
