package wallet

import "time"

// Balance mirrors a wallet_balances row. An account with no row holds zero
// and accepts transfers.
type Balance struct {
	Account          string    `json:"account"`
	Amount           int64     `json:"amount"`
	AcceptsTransfers bool      `json:"accepts_transfers"`
	UpdatedAt        time.Time `json:"updated_at"`
}
