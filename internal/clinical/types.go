package clinical

import "time"

// Slot is one bookable availability window.
type Slot struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Provider   string    `json:"provider_name"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// Appointment is a booked visit. StartTime is nil when the backend has not
// scheduled it yet.
type Appointment struct {
	ID          string     `json:"id"`
	PatientName string     `json:"patient_name"`
	Provider    string     `json:"provider_name"`
	Type        string     `json:"appointment_type"`
	Status      string     `json:"status"`
	StartTime   *time.Time `json:"start_time"`
	State       string     `json:"state,omitempty"`
}

// Document is a chart document (lab result, intake form, visit note).
type Document struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Section   string     `json:"section"`
	Status    string     `json:"status"`
	CreatedAt *time.Time `json:"created_at"`
	URL       string     `json:"url,omitempty"`
}

// Prescription is an active or past medication order.
type Prescription struct {
	ID         string     `json:"id"`
	Medication string     `json:"medication"`
	Dosage     string     `json:"dosage"`
	Status     string     `json:"status"`
	Prescriber string     `json:"prescriber"`
	WrittenAt  *time.Time `json:"written_at"`
}

// Chart is the patient's record as returned by the backend.
type Chart struct {
	PatientID     string         `json:"patient_id"`
	Documents     []Document     `json:"documents"`
	Prescriptions []Prescription `json:"prescriptions"`
}

// BookingRequest books a slot.
type BookingRequest struct {
	SlotID      string `json:"slot_id"`
	ProviderID  string `json:"provider_id"`
	State       string `json:"state"`
	CustomerID  string `json:"customer_id"`
	ProductID   string `json:"product_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CSRFToken   string `json:"-"`
	PatientNote string `json:"note,omitempty"`
}

// Registration creates a backend patient for a storefront customer.
type Registration struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone,omitempty"`
	State      string `json:"state"`
	CustomerID string `json:"shopify_customer_id"`
}

// Customer is the registered backend patient.
type Customer struct {
	ID         string `json:"id"`
	PatientID  string `json:"patient_id"`
	Email      string `json:"email"`
	CustomerID string `json:"shopify_customer_id"`
}

// TokenExchange trades a storefront login for a backend token.
type TokenExchange struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"email"`
	Signature     string `json:"signature"`
}

// Token is a backend session credential.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// QuizCompletion is forwarded from the questionnaire widget.
type QuizCompletion struct {
	QuizID     string         `json:"quiz_id"`
	CustomerID string         `json:"customer_id,omitempty"`
	ProductID  string         `json:"product_id,omitempty"`
	Approved   bool           `json:"approved"`
	Answers    map[string]any `json:"answers,omitempty"`
}

// QuizStatus is the backend's authoritative completion flag.
type QuizStatus struct {
	QuizID    string `json:"quiz_id"`
	Completed bool   `json:"completed"`
	Approved  bool   `json:"approved"`
}
