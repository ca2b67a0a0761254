// Package ids issues record identifiers.
package ids

import "github.com/google/uuid"

// Provider issues UUIDv7 identifiers.
type Provider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() *Provider {
	return &Provider{}
}

// NewID returns a fresh identifier.
func (p *Provider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
