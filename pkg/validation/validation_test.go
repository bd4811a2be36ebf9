package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("movie-night"))
	assert.NoError(t, ValidateRoomID("room_42"))

	assert.Error(t, ValidateRoomID(""))
	assert.Error(t, ValidateRoomID("   "))
	assert.Error(t, ValidateRoomID("has spaces"))
	assert.Error(t, ValidateRoomID("emoji🎬"))
	assert.Error(t, ValidateRoomID(strings.Repeat("a", 65)))
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("alice"))
	assert.NoError(t, ValidateUserID("550e8400-e29b-41d4-a716-446655440000"))

	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("a b"))
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("Alice"))
	assert.NoError(t, ValidateUsername("Зритель"))

	assert.Error(t, ValidateUsername(""))
	assert.Error(t, ValidateUsername("  "))
	assert.Error(t, ValidateUsername(strings.Repeat("x", 51)))
}

func TestValidateChatText(t *testing.T) {
	assert.NoError(t, ValidateChatText("hello"))

	assert.Error(t, ValidateChatText(""))
	assert.Error(t, ValidateChatText("   "))
	assert.Error(t, ValidateChatText(strings.Repeat("x", MaxChatTextLength+1)))
}

func TestValidateVideoURL(t *testing.T) {
	assert.NoError(t, ValidateVideoURL("https://example.com/video.mp4"))
	assert.NoError(t, ValidateVideoURL("http://cdn.example.com/v/123"))

	assert.Error(t, ValidateVideoURL(""))
	assert.Error(t, ValidateVideoURL("ftp://example.com/video.mp4"))
	assert.Error(t, ValidateVideoURL("javascript:alert(1)"))
	assert.Error(t, ValidateVideoURL("https://"))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello", SanitizeText("  hello \x00\x08"))
	assert.Equal(t, "two\nlines", SanitizeText("two\nlines"))
	assert.Equal(t, "tabbed\there", SanitizeText("tabbed\there"))
}
