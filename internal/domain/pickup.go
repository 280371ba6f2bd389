package domain

import "time"

type PickupStatus string

const (
	PickupPending   PickupStatus = "Pending"
	PickupAssigned  PickupStatus = "Assigned"
	PickupCompleted PickupStatus = "Completed"
)

// Pickup is a client-initiated collection request. It is independent until
// an assignment action binds it to exactly one route stop.
type Pickup struct {
	ID          string
	LabID       string
	ClinicID    string
	Status      PickupStatus
	RequestTime time.Time
	IsRush      bool
	WindowStart *time.Time
	Coordinates *Coordinates
}

// Clone returns a copy of the pickup safe to hand outside the store.
func (p *Pickup) Clone() *Pickup {
	cp := *p
	if p.WindowStart != nil {
		t := *p.WindowStart
		cp.WindowStart = &t
	}
	if p.Coordinates != nil {
		c := *p.Coordinates
		cp.Coordinates = &c
	}
	return &cp
}
