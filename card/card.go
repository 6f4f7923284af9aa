package card

import "time"

// Card describes a single digital business card owned by a user
type Card struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"userId" gorm:"index"`
	Slug      string    `json:"slug" gorm:"uniqueIndex"` // public URL segment of the card page
	Title     string    `json:"title"`
	Company   string    `json:"company"`
	JobTitle  string    `json:"jobTitle"`
	Active    bool      `json:"active"` // inactive cards are hidden from the public page
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
