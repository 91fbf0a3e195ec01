package validator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	phoneRegex    = regexp.MustCompile(`^[0-9]{10,15}$`)
	tenantIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// ValidateTenantID checks that a tenant identifier can safely name an
// on-disk credential directory.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantId é obrigatório")
	}
	if tenantID == "." || tenantID == ".." || !tenantIDRegex.MatchString(tenantID) {
		return fmt.Errorf("tenantId inválido: use até 64 caracteres [A-Za-z0-9_.-]")
	}
	return nil
}

// ValidateRecipient accepts a bare phone number (punctuation allowed) or a
// full JID such as 6281234567890@s.whatsapp.net.
func ValidateRecipient(to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("destinatário é obrigatório")
	}
	if strings.Contains(to, "@") {
		user, server, _ := strings.Cut(to, "@")
		if user == "" || server == "" {
			return fmt.Errorf("JID de destinatário inválido")
		}
		return nil
	}
	return ValidatePhoneNumber(strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "").Replace(to))
}

func ValidatePhoneNumber(number string) error {
	if number == "" {
		return fmt.Errorf("número de telefone é obrigatório")
	}

	if !phoneRegex.MatchString(number) {
		return fmt.Errorf("formato de número de telefone inválido")
	}

	return nil
}

// ValidateWebhookURL accepts empty (use the process default) or an absolute
// http(s) URL.
func ValidateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhookUrl inválida: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhookUrl deve ser uma URL http(s) absoluta")
	}
	return nil
}

func ValidateJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("corpo da requisição vazio")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("JSON inválido: %w", err)
	}

	return nil
}
