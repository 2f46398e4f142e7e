package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/feupam/feupam-checkout/internal/domain"
)

// ChargeShape tags which response layout a charge was decoded from
type ChargeShape string

const (
	// ChargeShapeLink is {chargeId, status, qrcodePix, payLink}
	ChargeShapeLink ChargeShape = "link"
	// ChargeShapeTransaction is {id, status, last_transaction:{qr_code_url, qr_code}}
	ChargeShapeTransaction ChargeShape = "transaction"
)

// ChargeResult is a decoded POST /payments response
type ChargeResult struct {
	Shape    ChargeShape
	ChargeID string
	Status   string
	Amount   int64
	PayLink  string
	// Message is the gateway text of a refused transaction
	Message string
	Pix     *domain.PixPayload
}

// Failed reports a charge the gateway refused despite a 2xx response
func (r *ChargeResult) Failed() bool {
	switch strings.ToLower(r.Status) {
	case "failed", "not_authorized", "refused", "canceled", "cancelled", "with_error":
		return true
	}
	return false
}

type linkShape struct {
	ChargeID  *string `json:"chargeId"`
	Status    string  `json:"status"`
	Amount    int64   `json:"amount"`
	QRCodePix *string `json:"qrcodePix"`
	PayLink   *string `json:"payLink"`
}

type transactionShape struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	LastTransaction *struct {
		ID              string `json:"id"`
		Status          string `json:"status"`
		QRCodeURL       string `json:"qr_code_url"`
		QRCode          string `json:"qr_code"`
		AcquirerMessage string `json:"acquirer_message"`
	} `json:"last_transaction"`
}

// DecodeCharge tries the link shape, then the transaction shape, and fails
// with domain.ErrUnrecognizedChargeResponse otherwise. A PIX charge must
// carry a code in either shape.
func DecodeCharge(raw []byte, method domain.PaymentMethod) (*ChargeResult, error) {
	raw = unwrapData(raw)

	if r, ok := decodeLink(raw, method); ok {
		return r, nil
	}
	if r, ok := decodeTransaction(raw, method); ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnrecognizedChargeResponse, truncate(raw))
}

func decodeLink(raw []byte, method domain.PaymentMethod) (*ChargeResult, bool) {
	var s linkShape
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	if s.QRCodePix == nil && s.PayLink == nil && s.ChargeID == nil {
		return nil, false
	}

	r := &ChargeResult{Shape: ChargeShapeLink, Status: s.Status, Amount: s.Amount}
	if s.ChargeID != nil {
		r.ChargeID = *s.ChargeID
	}
	if s.PayLink != nil {
		r.PayLink = *s.PayLink
	}
	code := ""
	if s.QRCodePix != nil {
		code = *s.QRCodePix
	}
	if method == domain.PaymentMethodPix {
		if code == "" && r.PayLink == "" {
			return nil, false
		}
		r.Pix = &domain.PixPayload{QRCode: r.PayLink, CopiaECola: code}
	}
	return r, true
}

func decodeTransaction(raw []byte, method domain.PaymentMethod) (*ChargeResult, bool) {
	var s transactionShape
	if err := json.Unmarshal(raw, &s); err != nil || s.LastTransaction == nil {
		return nil, false
	}

	tx := s.LastTransaction
	r := &ChargeResult{
		Shape:    ChargeShapeTransaction,
		ChargeID: s.ID,
		Status:   s.Status,
		Amount:   s.Amount,
		PayLink:  tx.QRCodeURL,
		Message:  tx.AcquirerMessage,
	}
	if r.Status == "" {
		r.Status = tx.Status
	}
	if method == domain.PaymentMethodPix {
		if tx.QRCode == "" && tx.QRCodeURL == "" {
			return nil, false
		}
		r.Pix = &domain.PixPayload{QRCode: tx.QRCodeURL, CopiaECola: tx.QRCode}
	}
	return r, true
}

// unwrapData strips a {"data": {...}} envelope
func unwrapData(raw []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw
	}
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
		return d
	}
	return raw
}
