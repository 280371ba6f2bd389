package domain

type VehicleStatus string

const (
	VehicleActive      VehicleStatus = "Active"
	VehicleMaintenance VehicleStatus = "Maintenance"
)

// Vehicle is a lab-owned delivery vehicle, optionally bound to a driver.
type Vehicle struct {
	ID               string
	LabID            string
	Status           VehicleStatus
	AssignedDriverID string
}
