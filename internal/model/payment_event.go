package model

import (
	"time"
)

// PaymentEvent records one externally delivered payment transaction. The unique
// index on TransactionID is what makes webhook reconciliation idempotent: a
// duplicate delivery fails the insert and is treated as already applied.
type PaymentEvent struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	TransactionID string    `json:"transaction_id" gorm:"type:varchar(100);uniqueIndex;not null"`
	ClientID      string    `json:"client_id" gorm:"type:uuid;index;not null"`
	Provider      string    `json:"provider" gorm:"type:varchar(50);not null"`
	Status        string    `json:"status" gorm:"type:varchar(30);not null"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method" gorm:"type:varchar(50)"`
	Commission    float64   `json:"commission"`
	Payload       string    `json:"-" gorm:"type:jsonb"`
	CreatedAt     time.Time `json:"created_at"`
}
