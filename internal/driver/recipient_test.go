package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full international", "6281234567890", "6281234567890@s.whatsapp.net"},
		{"punctuation", "+62 812-3456-7890", "6281234567890@s.whatsapp.net"},
		{"trunk zero", "081234567890", "6281234567890@s.whatsapp.net"},
		{"missing country", "81234567890", "6281234567890@s.whatsapp.net"},
		{"foreign with plus", "+55 11 99999-9999", "5511999999999@s.whatsapp.net"},
		{"foreign with 00", "005511999999999", "5511999999999@s.whatsapp.net"},
		{"foreign without marker", "5511999999999", "625511999999999@s.whatsapp.net"},
		{"c.us suffix", "6281234567890@c.us", "6281234567890@s.whatsapp.net"},
		{"jid passthrough", "6281234567890@s.whatsapp.net", "6281234567890@s.whatsapp.net"},
		{"group jid", "120363025246125486@g.us", "120363025246125486@g.us"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := ParseRecipient(tt.in, "62")
			require.NoError(t, err)
			assert.Equal(t, tt.want, jid.String())
		})
	}
}

func TestParseRecipient_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc123", "@s.whatsapp.net", "+", "00"} {
		_, err := ParseRecipient(in, "62")
		assert.ErrorIs(t, err, ErrInvalidRecipient, in)
	}
}
