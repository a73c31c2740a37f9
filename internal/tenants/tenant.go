package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tenant is the read-only business configuration the conversation needs.
// Values are copied out of the store; nothing downstream mutates them.
type Tenant struct {
	ID           string `json:"id" db:"id"`
	BusinessName string `json:"business_name" db:"business_name"`
	BusinessType string `json:"business_type" db:"business_type"`

	AIInstructions  string `json:"ai_instructions" db:"ai_instructions"`
	GreetingMessage string `json:"greeting_message" db:"greeting_message"`

	AssignedNumber  string `json:"assigned_number" db:"assigned_number"`
	ForwardToNumber string `json:"forward_to_number" db:"forward_to_number"`

	NotificationEmail        string `json:"notification_email" db:"notification_email"`
	NotificationPhone        string `json:"notification_phone" db:"notification_phone"`
	NotificationInstructions string `json:"notification_instructions" db:"notification_instructions"`

	// Voice is the TTS voice profile; empty means the service default.
	Voice string `json:"voice" db:"voice"`
}

// Greeting returns the configured greeting or the default one.
func (t Tenant) Greeting() string {
	if g := strings.TrimSpace(t.GreetingMessage); g != "" {
		return g
	}
	return fmt.Sprintf("Thank you for calling %s. How can I help you today?", t.BusinessName)
}

// Directory resolves tenants for the call path.
type Directory interface {
	ByAssignedNumber(ctx context.Context, number string) (Tenant, error)
	Get(ctx context.Context, id string) (Tenant, error)
}

var ErrTenantNotFound = errors.New("tenant not found")
