package service

import (
	"strings"
	"testing"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFieldStripsMarkup(t *testing.T) {
	assert.Equal(t, "Jane", sanitizeField("<script>alert(1)</script>Jane", 60))
	assert.Equal(t, "12 Main St", sanitizeField("12 <b>Main</b> St", 60))
	assert.Equal(t, "ab", sanitizeField(`a<">`+"`b", 60))
}

func TestSanitizeFieldCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "1 Main St", sanitizeField("  1   Main \t St \n", 60))
}

func TestSanitizeFieldCapsLength(t *testing.T) {
	long := strings.Repeat("x", 500)
	assert.Len(t, sanitizeField(long, 120), 120)
}

func TestSnapshotAddress(t *testing.T) {
	u := &models.User{
		FirstName: " Jane ",
		LastName:  "<i>Doe</i>",
		Email:     "jane@example.com",
		Phone:     "0100 000 000",
		Street:    "1 Main St",
		Building:  "4",
		Floor:     "2",
		Country:   "EG",
		State:     "Cairo",
	}

	addr := snapshotAddress(u)
	assert.Equal(t, "Jane", addr.FirstName)
	assert.Equal(t, "Doe", addr.LastName)
	assert.Equal(t, "jane@example.com", addr.Email)
	assert.Equal(t, "0100 000 000", addr.Phone)
	assert.Equal(t, "Cairo", addr.State)
}
