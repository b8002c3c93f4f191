package client

import "encoding/json"

// Charge statuses that confirm payment
const (
	StatusCompleted = "COMPLETED"
	StatusConfirmed = "CONFIRMED"
)

// EncryptRequest is the body of POST /api/encrypt
type EncryptRequest struct {
	Text             string  `json:"text"`
	OriginalFileName *string `json:"originalFileName"`
}

// EncryptedImage is the main image as rows of CSS colors
type EncryptedImage struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Pixels [][]string `json:"pixels"`
}

// EncryptResponse is returned by POST /api/encrypt
type EncryptResponse struct {
	SessionID      string         `json:"sessionId"`
	FileName       string         `json:"fileName"`
	EncryptedImage EncryptedImage `json:"encryptedImage"`
}

// PaymentRequest is the body of POST /api/create-payment
type PaymentRequest struct {
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName"`
}

// Charge is returned by POST /api/create-payment
type Charge struct {
	ChargeID  string `json:"chargeId"`
	HostedURL string `json:"hostedUrl"`
	Price     string `json:"price,omitempty"`
}

// Status is returned by GET /api/check-payment/{chargeId}. Payment entries
// are opaque; only their number matters.
type Status struct {
	Status   string            `json:"status"`
	Payments []json.RawMessage `json:"payments"`
}

// Confirmed reports whether the charge has been paid
func (s *Status) Confirmed() bool {
	return s.Status == StatusCompleted || s.Status == StatusConfirmed || len(s.Payments) > 0
}

// TokenRequest is the body of POST /api/download-token
type TokenRequest struct {
	SessionID string `json:"sessionId"`
	ChargeID  string `json:"chargeId"`
}

// TokenResponse is returned by POST /api/download-token. Alphabet is the
// alphabet version the colors were issued for, if the service reports it.
type TokenResponse struct {
	TokenData []string `json:"tokenData"`
	FileName  string   `json:"fileName"`
	Alphabet  string   `json:"alphabet,omitempty"`
}
