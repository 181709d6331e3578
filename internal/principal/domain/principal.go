package domain

import "time"

// Principal is an authenticated Telegram user. ID is the Telegram user id in decimal form;
// the display fields are refreshed from the signed login payload on every login.
type Principal struct {
	ID           string
	FirstName    string
	LastName     string
	Username     string
	PhotoURL     string
	LanguageCode string
	IsPremium    bool
	CreatedAt    time.Time
	LastLoginAt  time.Time
}
