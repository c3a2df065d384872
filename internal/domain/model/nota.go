package model

import "time"

// NotaStatus is the lifecycle state of a nota. Transitions are monotone:
// ISSUED -> CASHED or ISSUED -> VOIDED, both terminal.
type NotaStatus string

const (
	NotaStatusIssued NotaStatus = "ISSUED"
	NotaStatusCashed NotaStatus = "CASHED"
	NotaStatusVoided NotaStatus = "VOIDED"
)

// Terminal reports whether no further status transition is permitted.
func (s NotaStatus) Terminal() bool {
	return s == NotaStatusCashed || s == NotaStatusVoided
}

// Nota is the transferable payment instrument. Drawer, recipient, and
// auditor are immutable once set at issuance; owner changes only via a
// Transfer while the status is ISSUED.
type Nota struct {
	ID           string     `db:"id"`
	Amount       string     `db:"amount"` // NUMERIC(78,0) as string
	Expiry       int64      `db:"expiry"`
	ERC20Address string     `db:"erc20_address"`
	Drawer       string     `db:"drawer"`
	Owner        string     `db:"owner"`
	Recipient    string     `db:"recipient"`
	Auditor      string     `db:"auditor"`
	Status       NotaStatus `db:"status"`
	TxHash       string     `db:"tx_hash"`
	BlockTime    int64      `db:"block_time"`

	// Incomplete marks a placeholder created by a Transfer that arrived
	// before its Write (ordering anomaly); issuance fields are unset.
	Incomplete bool `db:"incomplete"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ERC20Token is a presence-only dictionary entry for a fungible-token
// contract referenced by one or more notas. Immutable after creation.
type ERC20Token struct {
	Address   string    `db:"address"`
	CreatedAt time.Time `db:"created_at"`
}
