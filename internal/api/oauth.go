package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/calsched/calsched/internal/models"
)

// stateSigner signs OAuth state values so the callback can verify the
// user id round-tripped through the provider unmodified. The key is
// generated per process; a restart invalidates in-flight consent flows,
// which is acceptable because the user just restarts the flow.
type stateSigner struct {
	once sync.Once
	key  []byte
}

var signer stateSigner

func (s *stateSigner) init() {
	s.once.Do(func() {
		s.key = make([]byte, 32)
		if _, err := rand.Read(s.key); err != nil {
			// The process cannot sign states without a key.
			panic(err)
		}
	})
}

func (s *stateSigner) sign(userID string) string {
	s.init()
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(userID))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(userID)) + "." + sig
}

func (s *stateSigner) verify(state string) (string, bool) {
	s.init()
	parts := strings.SplitN(state, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	userID := string(raw)

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(userID))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return "", false
	}
	return userID, true
}

// handleOAuthConnect starts the provider consent flow for a user: it
// redirects the browser to the provider's consent screen with the user id
// carried in a signed state value.
func (s *Server) handleOAuthConnect(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	url := s.provider.AuthCodeURL(signer.sign(userID))
	c.Redirect(http.StatusFound, url)
}

// handleOAuthCallback completes the consent flow: it exchanges the
// authorization code for tokens and stores the resulting credential as
// ACTIVE.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()

	if errParam := c.Query("error"); errParam != "" {
		s.logger.WarnWithContext(ctx, "oauth consent denied", "error", errParam)
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization was denied"})
		return
	}

	userID, ok := signer.verify(c.Query("state"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	connected, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "oauth code exchange failed",
			"user_id", userID, "error", err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}

	cred := &models.Credential{
		UserID:       userID,
		Provider:     s.provider.ID(),
		AccessToken:  connected.AccessToken,
		RefreshToken: connected.RefreshToken,
		ExpiresAt:    connected.ExpiresAt,
		Status:       models.CredentialActive,
		AccountEmail: connected.AccountEmail,
	}
	if err := s.store.UpsertCredential(cred); err != nil {
		s.logger.ErrorWithContext(ctx, "failed to persist credential",
			"user_id", userID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.logger.InfoWithContext(ctx, "calendar integration connected",
		"user_id", userID, "account_email", connected.AccountEmail)
	c.JSON(http.StatusOK, gin.H{
		"status":        "connected",
		"user_id":       userID,
		"account_email": connected.AccountEmail,
	})
}
