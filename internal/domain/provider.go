package domain

import "strings"

// ProviderStatus is the closed set of payment outcomes this service acts on.
type ProviderStatus int

const (
	ProviderUnknown ProviderStatus = iota
	ProviderPending
	ProviderCompleted
	ProviderCancelled
)

func (s ProviderStatus) String() string {
	switch s {
	case ProviderPending:
		return "pending"
	case ProviderCompleted:
		return "completed"
	case ProviderCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ParseProviderStatus maps a raw provider value. Anything unrecognized is
// ProviderUnknown and must not be acted on.
func ParseProviderStatus(raw string) ProviderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "complete", "completed", "succeeded":
		return ProviderCompleted
	case "canceled", "cancelled", "declined", "failed":
		return ProviderCancelled
	case "open", "unpaid", "pending", "processing":
		return ProviderPending
	}
	return ProviderUnknown
}
