package client

import (
	"context"
	"net/http"

	"github.com/feupam/feupam-checkout/internal/domain"
)

// Card holds the card fields of a credit card charge
type Card struct {
	Number      string   `json:"number"`
	HolderName  string   `json:"holder_name"`
	ExpMonth    int      `json:"exp_month"`
	ExpYear     int      `json:"exp_year"`
	CVV         string   `json:"cvv"`
	HolderCPF   string   `json:"holder_document,omitempty"`
	BillingAddr *Billing `json:"billing_address,omitempty"`
}

// Billing is the billing address of a card
type Billing struct {
	Line1   string `json:"line_1"`
	Line2   string `json:"line_2,omitempty"`
	ZipCode string `json:"zip_code"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// PaymentRequest is the body of POST /payments
type PaymentRequest struct {
	Items        []PaymentItem        `json:"items"`
	Customer     PaymentCustomer      `json:"customer"`
	Payments     []PaymentInstruction `json:"payments"`
	EventID      string               `json:"eventId"`
	SpotID       string               `json:"spotId,omitempty"`
	Installments int                  `json:"installments,omitempty"`
}

// PaymentItem is the single line item of a registration charge
type PaymentItem struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Code        string `json:"code"`
}

// PaymentCustomer identifies the payer
type PaymentCustomer struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Document string `json:"document,omitempty"`
}

// PaymentInstruction selects the payment method
type PaymentInstruction struct {
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	CreditCard    *CreditCardPayment   `json:"credit_card,omitempty"`
	Pix           *PixPayment          `json:"pix,omitempty"`
}

// CreditCardPayment is the credit_card branch of a payment instruction
type CreditCardPayment struct {
	Installments        int    `json:"installments"`
	StatementDescriptor string `json:"statement_descriptor,omitempty"`
	Card                Card   `json:"card"`
}

// PixPayment is the pix branch of a payment instruction
type PixPayment struct {
	ExpiresIn int `json:"expires_in"`
}

// CreatePayment creates a charge and decodes whichever response shape the
// backend returned
func (c *Client) CreatePayment(ctx context.Context, req *PaymentRequest) (*ChargeResult, error) {
	raw, err := c.do(ctx, call{method: http.MethodPost, path: "/payments", body: req, timeout: c.writeTimeout}, nil)
	if err != nil {
		return nil, err
	}
	method := domain.PaymentMethodPix
	if len(req.Payments) > 0 {
		method = req.Payments[0].PaymentMethod
	}
	return DecodeCharge(raw, method)
}

// ReprocessRequest is the body of POST /payments/reprocessar-status
type ReprocessRequest struct {
	Email    string `json:"email"`
	EventID  string `json:"eventId"`
	ChargeID string `json:"chargeId,omitempty"`
}

// ReprocessResult is the reconciliation outcome
type ReprocessResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ReprocessPaymentStatus forces reconciliation of a stuck payment
func (c *Client) ReprocessPaymentStatus(ctx context.Context, req ReprocessRequest) (*ReprocessResult, error) {
	var result ReprocessResult
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/payments/reprocessar-status", body: req, timeout: c.writeTimeout}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
