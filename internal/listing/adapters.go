package listing

import (
	"time"

	"github.com/wolfman30/sxrx-edge/internal/clinical"
)

// Listing names, used in routes and storage keys.
const (
	Appointments  = "appointments"
	Documents     = "documents"
	Prescriptions = "prescriptions"
)

// Sort keys shared by the listings.
const (
	KeyStart    = "start"
	KeyName     = "name"
	KeyStatus   = "status"
	KeyDate     = "date"
	KeyProvider = "provider"
)

// DefaultState is the initial view state of a listing before the shopper
// has chosen a sort.
func DefaultState(name string) State {
	switch name {
	case Appointments:
		return State{SortKey: KeyStart, SortDir: Asc, SectionFilter: FilterAll}
	default:
		return State{SortKey: KeyDate, SortDir: Desc, SectionFilter: FilterAll}
	}
}

// Known reports whether name is a supported listing.
func Known(name string) bool {
	switch name {
	case Appointments, Documents, Prescriptions:
		return true
	}
	return false
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FromAppointments converts appointments to rows categorized by status.
func FromAppointments(in []clinical.Appointment) []Row {
	rows := make([]Row, 0, len(in))
	for _, a := range in {
		rows = append(rows, NewRow(a.ID, a.Status, map[string]string{
			KeyStart:    formatTime(a.StartTime),
			KeyName:     a.Type,
			KeyStatus:   a.Status,
			KeyProvider: a.Provider,
		}, a.Type, a.Provider, a.Status, a.PatientName, a.State))
	}
	return rows
}

// FromDocuments converts chart documents to rows categorized by section.
func FromDocuments(in []clinical.Document) []Row {
	rows := make([]Row, 0, len(in))
	for _, d := range in {
		rows = append(rows, NewRow(d.ID, d.Section, map[string]string{
			KeyDate:   formatTime(d.CreatedAt),
			KeyName:   d.Name,
			KeyStatus: d.Status,
		}, d.Name, d.Section, d.Status))
	}
	return rows
}

// FromPrescriptions converts prescriptions to rows categorized by status.
func FromPrescriptions(in []clinical.Prescription) []Row {
	rows := make([]Row, 0, len(in))
	for _, p := range in {
		rows = append(rows, NewRow(p.ID, p.Status, map[string]string{
			KeyDate:     formatTime(p.WrittenAt),
			KeyName:     p.Medication,
			KeyStatus:   p.Status,
			KeyProvider: p.Prescriber,
		}, p.Medication, p.Dosage, p.Prescriber, p.Status))
	}
	return rows
}
