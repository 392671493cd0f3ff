package helius

// ---------------------------------------------------------------------------
// Enhanced transaction payload model
// Field names vary across webhook payload versions; everything is optional
// and consumers tolerate zero values.
// ---------------------------------------------------------------------------

// TokenTransfer is one SPL transfer inside an enhanced transaction.
type TokenTransfer struct {
	FromTokenAccount string          `json:"fromTokenAccount"`
	ToTokenAccount   string          `json:"toTokenAccount"`
	FromUserAccount  string          `json:"fromUserAccount"`
	ToUserAccount    string          `json:"toUserAccount"`
	TokenAmount      float64         `json:"tokenAmount"`
	RawTokenAmount   *RawTokenAmount `json:"rawTokenAmount,omitempty"`
	Mint             string          `json:"mint"`
	TokenStandard    string          `json:"tokenStandard"`
}

// NativeTransfer is one lamport transfer inside an enhanced transaction.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"` // lamports
}

// RawTokenAmount carries the raw amount with decimals.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

// TokenBalanceChange is a per-account token balance delta.
type TokenBalanceChange struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
	Mint           string         `json:"mint"`
}

// AccountData carries native and token balance changes for one account.
type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"`
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

// EnhancedTransaction is the parsed transaction pushed by the webhook.
type EnhancedTransaction struct {
	Description      string           `json:"description"`
	Type             string           `json:"type"`
	Source           string           `json:"source"`
	Fee              int64            `json:"fee"`
	FeePayer         string           `json:"feePayer"`
	Signature        string           `json:"signature"`
	Slot             uint64           `json:"slot"`
	Timestamp        int64            `json:"timestamp"`
	TokenTransfers   []TokenTransfer  `json:"tokenTransfers"`
	NativeTransfers  []NativeTransfer `json:"nativeTransfers"`
	AccountData      []AccountData    `json:"accountData"`
	TransactionError any              `json:"transactionError"`
}
