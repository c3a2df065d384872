// Package event defines the six typed ledger events the projector consumes.
// Events arrive already decoded from chain logs; this package carries no
// transport or ABI concerns.
package event

// Kind tags one of the six ledger event types.
type Kind string

const (
	KindWrite        Kind = "Write"
	KindTransfer     Kind = "Transfer"
	KindCash         Kind = "Cash"
	KindVoid         Kind = "Void"
	KindShakeAuditor Kind = "ShakeAuditor"
	KindShakeUser    Kind = "ShakeUser"
)

// Kinds lists every recognized event kind.
func Kinds() []Kind {
	return []Kind{KindWrite, KindTransfer, KindCash, KindVoid, KindShakeAuditor, KindShakeUser}
}

// Event is one decoded ledger event. All addresses carried by an event are
// canonical lowercase hex.
type Event interface {
	Kind() Kind
}

// Write announces the issuance of a new nota.
type Write struct {
	NotaID    string
	Amount    string // non-negative decimal integer string
	Expiry    int64
	ERC20     string
	Drawer    string
	Recipient string
	Auditor   string
	BlockTime int64
	BlockHash string
}

func (Write) Kind() Kind { return KindWrite }

// Transfer moves ownership of a nota. From equal to the zero address is the
// mint-side transfer already accounted for by the preceding Write.
type Transfer struct {
	NotaID string
	From   string
	To     string
}

func (Transfer) Kind() Kind { return KindTransfer }

// Cash settles a nota; terminal.
type Cash struct {
	NotaID string
	Bearer string
}

func (Cash) Kind() Kind { return KindCash }

// Void cancels a nota; terminal.
type Void struct {
	NotaID string
	Bearer string
}

func (Void) Kind() Kind { return KindVoid }

// ShakeAuditor is the auditor-side half of the trust handshake. Accepted
// false is a rejection that keeps the pair uncompleted.
type ShakeAuditor struct {
	User      string
	Auditor   string
	Accepted  bool
	BlockTime int64
}

func (ShakeAuditor) Kind() Kind { return KindShakeAuditor }

// ShakeUser is the user-side half of the trust handshake.
type ShakeUser struct {
	User      string
	Auditor   string
	BlockTime int64
}

func (ShakeUser) Kind() Kind { return KindShakeUser }
