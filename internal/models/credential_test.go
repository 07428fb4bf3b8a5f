package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredentialValidate(t *testing.T) {
	valid := Credential{
		UserID:      "alice",
		Provider:    ProviderGoogle,
		AccessToken: "tok",
		Status:      CredentialActive,
	}
	assert.NoError(t, valid.Validate())

	missingUser := valid
	missingUser.UserID = ""
	assert.Error(t, missingUser.Validate())

	missingProvider := valid
	missingProvider.Provider = ""
	assert.Error(t, missingProvider.Validate())

	missingToken := valid
	missingToken.AccessToken = ""
	assert.Error(t, missingToken.Validate())

	badStatus := valid
	badStatus.Status = "SUSPENDED"
	assert.Error(t, badStatus.Validate())
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"nil expiry is treated as expired", nil, true},
		{"already expired", timePtr(now.Add(-1 * time.Hour)), true},
		{"expires in one minute", timePtr(now.Add(1 * time.Minute)), true},
		{"expires just inside the margin", timePtr(now.Add(RefreshSafetyMargin - time.Second)), true},
		{"exactly the safety margin left", timePtr(now.Add(RefreshSafetyMargin)), false},
		{"plenty of lifetime left", timePtr(now.Add(1 * time.Hour)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := Credential{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, cred.NeedsRefresh(now))
		})
	}
}

func TestRefreshable(t *testing.T) {
	cred := Credential{Status: CredentialActive, RefreshToken: "rt"}
	assert.True(t, cred.Refreshable())

	noToken := Credential{Status: CredentialActive}
	assert.False(t, noToken.Refreshable())

	expired := Credential{Status: CredentialExpired, RefreshToken: "rt"}
	assert.False(t, expired.Refreshable())

	revoked := Credential{Status: CredentialRevoked, RefreshToken: "rt"}
	assert.False(t, revoked.Refreshable())
}

func timePtr(t time.Time) *time.Time {
	return &t
}
