package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPlayerName(t *testing.T) {
	assert.Equal(t, "Officer Jensen", CleanPlayerName("^1Officer ^7Jensen "))
	assert.Equal(t, "plain", CleanPlayerName("plain"))
}

func TestDiscordIDFromIdentifiers(t *testing.T) {
	ids := []string{"license:abc", "discord:123456789012345678", "fivem:42"}
	assert.Equal(t, "123456789012345678", DiscordIDFromIdentifiers(ids))
	assert.Equal(t, "", DiscordIDFromIdentifiers([]string{"license:abc"}))
}

func TestCFXSeverityOrdering(t *testing.T) {
	assert.Less(t, CFXSeverity(CFXOperational), CFXSeverity(CFXMaintenance))
	assert.Less(t, CFXSeverity(CFXMaintenance), CFXSeverity(CFXDegraded))
	assert.Less(t, CFXSeverity(CFXDegraded), CFXSeverity(CFXMajorOutage))
	assert.Equal(t, 0, CFXSeverity("unknown"))
}

func TestValidPermission(t *testing.T) {
	assert.True(t, ValidPermission(PermChatRespond))
	assert.False(t, ValidPermission("chat.delete_everything"))
}

func TestEventIsChatEvent(t *testing.T) {
	assert.True(t, NewEvent(EventChatMessage, nil).IsChatEvent())
	assert.False(t, NewEvent(EventServerUpdate, nil).IsChatEvent())
}
