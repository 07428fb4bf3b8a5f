package models

import (
	"fmt"
	"time"
)

// ProviderID identifies an external calendar provider.
type ProviderID string

const (
	// ProviderGoogle is the Google Calendar provider.
	ProviderGoogle ProviderID = "google"
	// ProviderOutlook is the Microsoft Outlook provider.
	ProviderOutlook ProviderID = "outlook"
)

// CredentialStatus represents the lifecycle state of a stored credential.
type CredentialStatus string

const (
	// CredentialActive means the credential is usable and refreshable.
	CredentialActive CredentialStatus = "ACTIVE"
	// CredentialExpired means a refresh attempt failed and the user must re-authorize.
	CredentialExpired CredentialStatus = "EXPIRED"
	// CredentialRevoked means the user disconnected the integration. Terminal.
	CredentialRevoked CredentialStatus = "REVOKED"
)

// RefreshSafetyMargin is how close to expiry a token may get before a
// refresh is performed. A token with exactly this much lifetime left is
// still considered fresh.
const RefreshSafetyMargin = 5 * time.Minute

// Credential stores OAuth material for one user's calendar integration.
// One row exists per (UserID, Provider). Rows are mutated only by the
// token lifecycle manager; everything else reads them.
type Credential struct {
	UserID       string           `json:"user_id"`
	Provider     ProviderID       `json:"provider"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	Status       CredentialStatus `json:"status"`
	AccountEmail string           `json:"account_email"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Validate checks if the credential is well-formed.
func (c *Credential) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	switch c.Status {
	case CredentialActive, CredentialExpired, CredentialRevoked:
	default:
		return fmt.Errorf("invalid status %q", c.Status)
	}
	return nil
}

// NeedsRefresh reports whether the access token must be refreshed before
// use. A nil expiry is treated as already expired. The safety margin is
// exclusive: a token with exactly RefreshSafetyMargin remaining does not
// need a refresh yet.
func (c *Credential) NeedsRefresh(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.Sub(now) < RefreshSafetyMargin
}

// Refreshable reports whether a refresh attempt may be made at all: only
// ACTIVE credentials carrying a refresh token qualify.
func (c *Credential) Refreshable() bool {
	return c.Status == CredentialActive && c.RefreshToken != ""
}
