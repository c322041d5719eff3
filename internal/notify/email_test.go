package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-engine/internal/apperr"
)

func TestNewSendGridSender_NoAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{}, nil)
	assert.Nil(t, sender, "sender without an API key should be nil so the channel stays unwired")
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "SG.test-key",
		FromEmail: "noreply@clinic.example",
	}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Clinic Assistant", sender.fromName)
}

func TestNewSendGridSender_CustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "SG.test-key",
		FromEmail: "noreply@clinic.example",
		FromName:  "Front Desk",
	}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Front Desk", sender.fromName)
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}

	err := sender.Send(context.Background(), "patient@example.com", Message{
		Subject: "Appointment confirmed",
		Body:    "See you tomorrow.",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindFatal, apperr.KindOf(err))
	assert.False(t, apperr.Retryable(err))
}

func TestStubSender_Send(t *testing.T) {
	sender := NewStubSender(nil)

	err := sender.Send(context.Background(), "patient@example.com", Message{
		Subject: "Appointment confirmed",
		Body:    "See you tomorrow.",
	})
	assert.NoError(t, err)
}
