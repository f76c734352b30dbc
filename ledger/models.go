package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Kind is the bridge operation that produced a transfer.
type Kind string

const (
	KindDeposit Kind = "deposit"
	KindBurn    Kind = "burn"
)

// Transfer is one submitted deposit or burn and its last known outcome.
// Rows carry references and amounts only.
type Transfer struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Kind            Kind       `gorm:"size:16;index" json:"kind"`
	Direction       string     `gorm:"size:16;index" json:"direction"`
	SourceTx        string     `gorm:"size:80;uniqueIndex" json:"sourceTx"`
	ApprovalTx      string     `gorm:"size:80" json:"approvalTx,omitempty"`
	Sender          string     `gorm:"size:64" json:"sender"`
	Recipient       string     `gorm:"size:64;index" json:"recipient"`
	HookData        string     `gorm:"size:66" json:"hookData,omitempty"`
	AmountBaseUnits string     `gorm:"size:40;not null" json:"amountBaseUnits"`
	Status          string     `gorm:"size:16;index" json:"status"`
	DestinationTx   string     `gorm:"size:80" json:"destinationTx,omitempty"`
	MatchedBy       string     `gorm:"size:24" json:"matchedBy,omitempty"`
	Error           string     `gorm:"size:256" json:"error,omitempty"`
	InvoiceToken    string     `gorm:"type:text" json:"invoiceToken,omitempty"`
	SubmittedAt     time.Time  `gorm:"index" json:"submittedAt"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`
	CreatedAt       time.Time  `json:"-"`
	UpdatedAt       time.Time  `json:"-"`
}

// BeforeCreate assigns an id to rows created without one.
func (t *Transfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// AutoMigrate creates or updates the ledger tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Transfer{})
}
