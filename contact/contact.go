package contact

import "time"

// Source describes how a contact entered the address book
type Source string

// Defining constants
const (
	SourceManual Source = "manual"
	SourceScan   Source = "scan" // fields extracted client-side from a scanned card
)

// Contact describes an entry in a user's address book
type Contact struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"userId" gorm:"index"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Company   string    `json:"company"`
	Note      string    `json:"note"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
