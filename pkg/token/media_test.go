package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIssue(t *testing.T) {
	provider := NewProvider("test-app", "test-secret")
	userID := uuid.New()

	cred, err := provider.Issue("call-abc123", userID, RolePublisher, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, cred.Token)
	assert.Equal(t, "call-abc123", cred.Channel)
	assert.NotZero(t, cred.UID)
	assert.True(t, cred.Expiry.After(time.Now()))
}

func TestIssue_MissingChannel(t *testing.T) {
	provider := NewProvider("test-app", "test-secret")

	_, err := provider.Issue("", uuid.New(), RolePublisher, time.Hour)
	assert.Error(t, err)
}

func TestNumericUID_Stable(t *testing.T) {
	userID := uuid.New()

	uid1 := numericUID(userID)
	uid2 := numericUID(userID)
	assert.Equal(t, uid1, uid2)
	assert.NotZero(t, uid1)
}
