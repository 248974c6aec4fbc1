package models

// APICredential is the quota view of one rotating Gemini API key.
// The raw secret never appears here; only the masked form is exposed.
type APICredential struct {
	ID            string `json:"keyId"`
	Name          string `json:"keyName"`
	MaskedValue   string `json:"maskedKey"`
	UsedToday     int    `json:"usedToday"`
	MaxPerDay     int    `json:"maxPerDay"`
	IsActive      bool   `json:"isActive"`
	LastResetDate string `json:"lastResetDate"`
}

// RpdStats is the aggregate requests-per-day view across all credentials.
// It is recomputed from the credential rows on every read.
type RpdStats struct {
	TotalUsed int             `json:"totalUsed"`
	TotalMax  int             `json:"totalMax"`
	Remaining int             `json:"remaining"`
	ResetTime string          `json:"resetTime"`
	Keys      []APICredential `json:"apiKeys"`
}
