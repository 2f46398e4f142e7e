package domain

import (
	"strings"
	"time"
)

// UserType distinguishes attendees from event staff
type UserType string

const (
	UserTypeClient UserType = "client"
	UserTypeStaff  UserType = "staff"
)

// IsValid reports whether t is a known user type
func (t UserType) IsValid() bool {
	return t == UserTypeClient || t == UserTypeStaff
}

// Reservation status values as reported by the backend
const (
	ReservationStatusPaid      = "Pago"
	ReservationStatusReserved  = "reserved"
	ReservationStatusPending   = "Pendente"
	ReservationStatusExpired   = "expired"
	ReservationStatusCancelled = "cancelled"
)

// ReservationData is the cached mirror of a server-side reservation
type ReservationData struct {
	ID       string   `json:"id,omitempty"`
	SpotID   string   `json:"spotId"`
	Email    string   `json:"email"`
	EventID  string   `json:"eventId"`
	UserType UserType `json:"userType"`
	Status   string   `json:"status"`
	Price    *int64   `json:"price,omitempty"`
	// Existing is set when the backend resolved the request to a reservation
	// the user already held
	Existing bool         `json:"existing,omitempty"`
	Charges  []ChargeInfo `json:"charges,omitempty"`
}

// IsPaid reports whether the reservation reached the terminal paid status
func (r *ReservationData) IsPaid() bool {
	return IsPaidStatus(r.Status)
}

// CurrentCharge returns the most recently appended charge
func (r *ReservationData) CurrentCharge() (ChargeInfo, bool) {
	if len(r.Charges) == 0 {
		return ChargeInfo{}, false
	}
	return r.Charges[len(r.Charges)-1], true
}

// BelongsTo reports whether the cache entry is for eventID
func (r *ReservationData) BelongsTo(eventID string) bool {
	return r != nil && r.EventID != "" && r.EventID == eventID
}

// IsPaidStatus matches the paid status case-insensitively ("Pago", "paid")
func IsPaidStatus(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return s == "pago" || s == "paid"
}

// IsExpiredStatus matches the statuses the backend uses for dead reservations
func IsExpiredStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "expired", "expirado", "expirada", "cancelled", "cancelado", "not_found":
		return true
	}
	return false
}

// existingMarkers are substrings the backend embeds in a spot id when it
// answered a reserve call with a reservation the user already held.
var existingMarkers = []string{"existing", "fallback", "409"}

// ResolvedExisting reports whether a reserve response points at an existing
// reservation. The explicit flag wins; markers are a compatibility fallback.
func ResolvedExisting(explicit bool, spotID string) bool {
	if explicit {
		return true
	}
	id := strings.ToLower(spotID)
	for _, marker := range existingMarkers {
		if strings.Contains(id, marker) {
			return true
		}
	}
	return false
}

// UserReservation is an entry of GET /users/reservations
type UserReservation struct {
	ID        string       `json:"id"`
	EventID   string       `json:"eventId"`
	EventName string       `json:"eventName,omitempty"`
	SpotID    string       `json:"spotId"`
	Email     string       `json:"email"`
	UserType  UserType     `json:"userType"`
	Status    string       `json:"status"`
	Price     *int64       `json:"price,omitempty"`
	CreatedAt *time.Time   `json:"createdAt,omitempty"`
	Charges   []ChargeInfo `json:"charges,omitempty"`
}

// ToReservationData converts a listed reservation into the cached shape
func (u UserReservation) ToReservationData() ReservationData {
	return ReservationData{
		ID:       u.ID,
		SpotID:   u.SpotID,
		Email:    u.Email,
		EventID:  u.EventID,
		UserType: u.UserType,
		Status:   u.Status,
		Price:    u.Price,
		Charges:  u.Charges,
	}
}

// FindReservation returns the reservation for eventID, preferring a paid one
func FindReservation(list []UserReservation, eventID string) (UserReservation, bool) {
	var found *UserReservation
	for i := range list {
		if list[i].EventID != eventID {
			continue
		}
		if IsPaidStatus(list[i].Status) {
			return list[i], true
		}
		if found == nil {
			found = &list[i]
		}
	}
	if found == nil {
		return UserReservation{}, false
	}
	return *found, true
}

// ReservationReportRow is an aggregate row of GET /users/reservations-report
type ReservationReportRow struct {
	EventID   string `json:"eventId"`
	EventName string `json:"eventName"`
	Status    string `json:"status"`
	UserType  string `json:"userType"`
	Count     int    `json:"count"`
	Total     int64  `json:"total"`
}

// TicketStatus is the answer of GET /tickets/:eventId/retry and /purchase
type TicketStatus struct {
	Status           string           `json:"status"`
	RemainingSeconds *int             `json:"remainingTime,omitempty"`
	Message          string           `json:"message,omitempty"`
	Reservation      *ReservationData `json:"reservation,omitempty"`
}

// IsPaid reports whether the status check found the reservation paid
func (s TicketStatus) IsPaid() bool {
	return IsPaidStatus(s.Status) || (s.Reservation != nil && s.Reservation.IsPaid())
}

// IsExpired reports whether the reservation is missing or past its window
func (s TicketStatus) IsExpired() bool {
	if s.IsPaid() {
		return false
	}
	if IsExpiredStatus(s.Status) {
		return true
	}
	return s.RemainingSeconds != nil && *s.RemainingSeconds <= 0
}

// Remaining returns the server-provided remaining time, if any
func (s TicketStatus) Remaining() (time.Duration, bool) {
	if s.RemainingSeconds == nil {
		return 0, false
	}
	return time.Duration(*s.RemainingSeconds) * time.Second, true
}
