package domain

type ProviderType string

const (
	ProviderInHouse    ProviderType = "IN_HOUSE"
	ProviderThirdParty ProviderType = "THIRD_PARTY"
)

type ProviderStatus string

const (
	ProviderActive   ProviderStatus = "Active"
	ProviderInactive ProviderStatus = "Inactive"
)

// What a courier can physically carry.
type ProviderCapabilities struct {
	MaxWeightKg        float64
	TemperatureControl bool
	FragileHandling    bool
}

type ProviderIntegration struct {
	// Lower numbers are tried first when rushing to a third party.
	FallbackPriority int
}

// Provider is an in-house or third-party entity capable of fulfilling a
// delivery.
type Provider struct {
	ID           string
	Type         ProviderType
	Status       ProviderStatus
	Capabilities ProviderCapabilities
	Integration  ProviderIntegration
}
