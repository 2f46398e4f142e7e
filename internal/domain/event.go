package domain

import "time"

// Event is the metadata of GET /events/:eventId. Price is in cents.
type Event struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Price       int64      `json:"price"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Location    string     `json:"location,omitempty"`
	IsOpen      bool       `json:"isOpen"`
}

// EventStatus is a calendar entry of GET /events/event-status
type EventStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	OpensAt   *time.Time `json:"opensAt,omitempty"`
	ClosesAt  *time.Time `json:"closesAt,omitempty"`
	IsOpen    bool       `json:"isOpen"`
	Remaining *int       `json:"remainingSpots,omitempty"`
}

// SpotAvailability is the answer of GET /events/:eventId/check-spot
type SpotAvailability struct {
	Available   bool   `json:"isAvailable"`
	WaitingList bool   `json:"waitingList"`
	Message     string `json:"message,omitempty"`
}

// ReserveSpotResult is the answer of POST /events/:eventId/reserve-spot
type ReserveSpotResult struct {
	ID       string   `json:"id,omitempty"`
	SpotID   string   `json:"spotId"`
	Email    string   `json:"email"`
	EventID  string   `json:"eventId"`
	UserType UserType `json:"userType"`
	Status   string   `json:"status"`
	Price    *int64   `json:"price,omitempty"`
	Existing bool     `json:"existing,omitempty"`
}

// ToReservationData converts the create result into the cached shape
func (r ReserveSpotResult) ToReservationData(eventID string) ReservationData {
	if r.EventID == "" {
		r.EventID = eventID
	}
	return ReservationData{
		ID:       r.ID,
		SpotID:   r.SpotID,
		Email:    r.Email,
		EventID:  r.EventID,
		UserType: r.UserType,
		Status:   r.Status,
		Price:    r.Price,
		Existing: ResolvedExisting(r.Existing, r.SpotID),
	}
}
