package domain

import "strings"

// PaymentMethod is the "meio" of a charge
type PaymentMethod string

const (
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodCreditCard PaymentMethod = "credit_card"
)

// ChargeInfo is a charge attached to a reservation
type ChargeInfo struct {
	ChargeID      string        `json:"chargeId"`
	Status        string        `json:"status"`
	Amount        int64         `json:"amount"`
	Meio          PaymentMethod `json:"meio"`
	PayLink       string        `json:"payLink,omitempty"`
	QRCodePix     string        `json:"qrcodePix,omitempty"`
	Event         string        `json:"event"`
	Email         string        `json:"email"`
	Lote          int           `json:"lote"`
	EnvioWhatsapp bool          `json:"envioWhatsapp"`
}

// PixPayload is the cached PIX code for an event
type PixPayload struct {
	QRCode     string `json:"qrCode"`
	CopiaECola string `json:"copiaECola"`
}

// InstallmentOption is one row of the installment pricing table
type InstallmentOption struct {
	Number       int   `json:"number"`
	ValueInCents int64 `json:"valueInCents"`
	TotalInCents int64 `json:"totalInCents,omitempty"`
}

// Total is the amount charged for the whole schedule
func (o InstallmentOption) Total() int64 {
	return o.ValueInCents * int64(o.Number)
}

// FindInstallment returns the option with the given count
func FindInstallment(options []InstallmentOption, number int) (InstallmentOption, bool) {
	for _, o := range options {
		if o.Number == number {
			return o, true
		}
	}
	return InstallmentOption{}, false
}

// CardErrorDetails is captured from a failed card payment. It lives only in
// memory for the current checkout.
type CardErrorDetails struct {
	Status    int    `json:"status,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// CardFailureKind selects the remediation offered after a card failure
type CardFailureKind string

const (
	// CardFailureReservationExpired offers only "start a new reservation"
	CardFailureReservationExpired CardFailureKind = "reservation_expired"
	// CardFailureTransactionOrdering is a backend-side fault; PIX is recommended
	CardFailureTransactionOrdering CardFailureKind = "transaction_ordering"
	// CardFailureGeneric gets cooldown, retry and the PIX alternative
	CardFailureGeneric CardFailureKind = "generic"
)

// expiredMarkers name the reservation, never the card: "cartão expirado"
// is an ordinary decline
var expiredMarkers = []string{
	"reservation expired",
	"reservation has expired",
	"reservation_expired",
	"reserva expirada",
	"reserva expirou",
	"reserva_expirada",
}

var orderingMarkers = []string{
	"transaction ordering",
	"transaction_order",
	"ordem das transa",
	"reading 'last_transaction'",
	"last_transaction is undefined",
}

// ClassifyCardFailure matches the error payload against known failure texts
func ClassifyCardFailure(d CardErrorDetails) CardFailureKind {
	text := strings.ToLower(d.Code + " " + d.Message + " " + d.Details)
	for _, m := range expiredMarkers {
		if strings.Contains(text, m) {
			return CardFailureReservationExpired
		}
	}
	for _, m := range orderingMarkers {
		if strings.Contains(text, m) {
			return CardFailureTransactionOrdering
		}
	}
	return CardFailureGeneric
}

// Remediation describes what the UI should offer after a card failure
type Remediation struct {
	Kind         CardFailureKind `json:"kind"`
	Action       string          `json:"action"`
	Destructive  bool            `json:"destructive"`
	AllowRetry   bool            `json:"allowRetry"`
	SuggestPix   bool            `json:"suggestPix"`
	ShowCooldown bool            `json:"showCooldown"`
}

// RemediationFor maps a failure kind to its remediation
func RemediationFor(kind CardFailureKind) Remediation {
	switch kind {
	case CardFailureReservationExpired:
		return Remediation{Kind: kind, Action: "new_reservation", Destructive: true}
	case CardFailureTransactionOrdering:
		return Remediation{Kind: kind, Action: "use_pix", SuggestPix: true}
	default:
		return Remediation{Kind: CardFailureGeneric, Action: "retry_or_pix", AllowRetry: true, SuggestPix: true, ShowCooldown: true}
	}
}
