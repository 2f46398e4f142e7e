package dto

import (
	"strings"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/internal/service"
)

// ProcessReservationRequest starts the reservation process for an event
type ProcessReservationRequest struct {
	TicketKind string `json:"ticketKind" binding:"omitempty,max=40"`
	UserType   string `json:"userType" binding:"omitempty,oneof=client staff"`
}

// ToProcessRequest defaults the user type to client
func (r *ProcessReservationRequest) ToProcessRequest() service.ProcessRequest {
	userType := domain.UserType(r.UserType)
	if userType == "" {
		userType = domain.UserTypeClient
	}
	return service.ProcessRequest{TicketKind: r.TicketKind, UserType: userType}
}

// CustomerRequest identifies the payer. Email defaults to the reservation email.
type CustomerRequest struct {
	Name     string `json:"name" binding:"omitempty,min=2,max=120"`
	Email    string `json:"email" binding:"omitempty,email"`
	Document string `json:"document" binding:"omitempty,cpf"`
}

func (r *CustomerRequest) toClient() client.PaymentCustomer {
	return client.PaymentCustomer{
		Name:     strings.TrimSpace(r.Name),
		Email:    strings.ToLower(strings.TrimSpace(r.Email)),
		Document: digitsOnly(r.Document),
	}
}

// BillingRequest is the card billing address
type BillingRequest struct {
	Line1   string `json:"line1" binding:"required"`
	Line2   string `json:"line2"`
	ZipCode string `json:"zipCode" binding:"required,numeric,len=8"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state" binding:"required,len=2"`
	Country string `json:"country" binding:"omitempty,iso3166_1_alpha2"`
}

// CardRequest holds the card fields
type CardRequest struct {
	Number     string          `json:"number" binding:"required,numeric,min=13,max=19"`
	HolderName string          `json:"holderName" binding:"required,min=2"`
	Expiry     string          `json:"expiry" binding:"required,card_expiry"`
	CVV        string          `json:"cvv" binding:"required,numeric,min=3,max=4"`
	HolderCPF  string          `json:"holderDocument" binding:"omitempty,cpf"`
	Billing    *BillingRequest `json:"billing" binding:"omitempty"`
}

// CardPaymentRequest is the body of POST /checkout/:event_id/payments/card
type CardPaymentRequest struct {
	Installments int             `json:"installments" binding:"omitempty,min=1,max=12"`
	Card         CardRequest     `json:"card"`
	Customer     CustomerRequest `json:"customer"`
}

// ToInput converts the request into a service input
func (r *CardPaymentRequest) ToInput() service.CardPaymentInput {
	month, year, _ := ParseCardExpiry(r.Card.Expiry)
	card := client.Card{
		Number:     r.Card.Number,
		HolderName: strings.ToUpper(strings.TrimSpace(r.Card.HolderName)),
		ExpMonth:   month,
		ExpYear:    year,
		CVV:        r.Card.CVV,
		HolderCPF:  digitsOnly(r.Card.HolderCPF),
	}
	if b := r.Card.Billing; b != nil {
		country := strings.ToUpper(b.Country)
		if country == "" {
			country = "BR"
		}
		card.BillingAddr = &client.Billing{
			Line1:   b.Line1,
			Line2:   b.Line2,
			ZipCode: b.ZipCode,
			City:    b.City,
			State:   strings.ToUpper(b.State),
			Country: country,
		}
	}
	installments := r.Installments
	if installments == 0 {
		installments = 1
	}
	return service.CardPaymentInput{
		Card:         card,
		Installments: installments,
		Customer:     r.Customer.toClient(),
	}
}

// PixPaymentRequest is the body of the PIX payment routes
type PixPaymentRequest struct {
	Customer CustomerRequest `json:"customer"`
}

// ToInput converts the request into a service input
func (r *PixPaymentRequest) ToInput(firstInstallment bool) service.PixPaymentInput {
	return service.PixPaymentInput{Customer: r.Customer.toClient(), FirstInstallment: firstInstallment}
}

// ReprocessPaymentRequest is the body of POST /admin/payments/reprocess
type ReprocessPaymentRequest struct {
	Email    string `json:"email" binding:"required,email"`
	EventID  string `json:"eventId" binding:"required"`
	ChargeID string `json:"chargeId"`
}

// ToClient converts the request into the backend body
func (r *ReprocessPaymentRequest) ToClient() client.ReprocessRequest {
	return client.ReprocessRequest{Email: r.Email, EventID: r.EventID, ChargeID: r.ChargeID}
}
