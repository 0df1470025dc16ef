// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction represents a single financial transaction owned by the external
// record store. The core reads it and annotates its category; it never owns
// the create/update/delete lifecycle.
type Transaction struct {
	Date         time.Time
	ID           string
	UserID       string
	Description  string // Raw transaction description
	MerchantName string // Cleaned merchant name
	Category     Category
	Hash         string
	Amount       float64
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.MerchantName,
		t.UserID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Window returns the calendar-month detection window the transaction falls
// into, keyed as "2006-01".
func (t *Transaction) Window() string {
	return t.Date.UTC().Format("2006-01")
}
