package service

import (
	"html"
	"strings"

	"checkout-service/internal/models"

	"github.com/microcosm-cc/bluemonday"
)

// Address snapshot fields are stored verbatim on the order header and later
// echoed into gateway billing data and notification templates, so markup is
// stripped and lengths capped before anything is persisted.

const maxAddressFieldLen = 120

var addressPolicy = bluemonday.StrictPolicy()

func sanitizeField(s string, max int) string {
	s = addressPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	s = strings.NewReplacer("<", "", ">", "", "\"", "", "`", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > max {
		s = string(runes[:max])
	}
	return strings.TrimSpace(s)
}

// snapshotAddress captures the sanitized shipping/billing snapshot from a
// user profile at order-creation time.
func snapshotAddress(u *models.User) models.Address {
	return models.Address{
		FirstName: sanitizeField(u.FirstName, 60),
		LastName:  sanitizeField(u.LastName, 60),
		Email:     sanitizeField(u.Email, maxAddressFieldLen),
		Phone:     sanitizeField(u.Phone, 30),
		Street:    sanitizeField(u.Street, maxAddressFieldLen),
		Building:  sanitizeField(u.Building, 30),
		Floor:     sanitizeField(u.Floor, 30),
		Country:   sanitizeField(u.Country, 60),
		State:     sanitizeField(u.State, 60),
	}
}
