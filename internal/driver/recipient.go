package driver

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ParseRecipient turns a phone number or JID into a JID. Numbers written
// with a leading + or 00 are taken as international and kept as they are.
// Other bare numbers get defaultCountry when they start with a trunk 0 or
// do not already start with it, so 5511999999999 sent to a gateway whose
// default is 62 must be written as +5511999999999.
func ParseRecipient(number, defaultCountry string) (types.JID, error) {
	n := strings.TrimSpace(number)
	international := strings.HasPrefix(n, "+") || strings.HasPrefix(n, "00")

	if strings.Contains(n, "@") {
		n = strings.Replace(n, "@c.us", "@"+types.DefaultUserServer, 1)
		jid, err := types.ParseJID(n)
		if err != nil || jid.User == "" {
			return types.JID{}, fmt.Errorf("%w: %s", ErrInvalidRecipient, number)
		}
		return jid, nil
	}

	n = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "").Replace(n)
	if n == "" {
		return types.JID{}, fmt.Errorf("%w: número vazio", ErrInvalidRecipient)
	}
	for _, c := range n {
		if c < '0' || c > '9' {
			return types.JID{}, fmt.Errorf("%w: %s", ErrInvalidRecipient, number)
		}
	}

	switch {
	case international:
		n = strings.TrimPrefix(n, "00")
		if n == "" {
			return types.JID{}, fmt.Errorf("%w: %s", ErrInvalidRecipient, number)
		}
	case strings.HasPrefix(n, "0"):
		n = defaultCountry + strings.TrimLeft(n, "0")
	case defaultCountry != "" && !strings.HasPrefix(n, defaultCountry):
		n = defaultCountry + n
	}

	return types.NewJID(n, types.DefaultUserServer), nil
}
