package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "trapper/pkg/domain-errors"
)

func fixedClock() RegistryOption {
	return WithClock(func() time.Time {
		return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	})
}

func TestRegistryRejectsUnknownSource(t *testing.T) {
	reg := DefaultRegistry(fixedClock())

	_, err := reg.Map("petfinder", map[string]string{"id": "1"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestClinicHQMapsOwnerFields(t *testing.T) {
	reg := DefaultRegistry(fixedClock())

	rec, err := reg.Map(SourceClinicHQ, map[string]string{
		"Number":           "14-1414",
		"Owner First Name": "Dana",
		"Owner Last Name":  "Whitfield",
		"Owner Email":      "dana@example.com",
		"Owner Cell Phone": "(707) 555-0101",
		"Owner Phone":      "707-555-9999",
		"Owner Address":    "815 Sonoma Ave, Santa Rosa, CA",
	})
	require.NoError(t, err)

	assert.Equal(t, SourceClinicHQ, rec.SourceSystem)
	assert.Equal(t, "14-1414", rec.SourceRecordID)
	assert.Equal(t, "Dana", rec.FirstName)
	assert.Equal(t, "Whitfield", rec.LastName)
	assert.Equal(t, "dana@example.com", rec.Email)
	assert.Equal(t, "(707) 555-0101", rec.Phone, "cell phone wins over landline")
	assert.Equal(t, "815 Sonoma Ave, Santa Rosa, CA", rec.Address)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), rec.ReceivedAt)
}

func TestClinicHQRequiresRecordNumber(t *testing.T) {
	reg := DefaultRegistry(fixedClock())

	_, err := reg.Map(SourceClinicHQ, map[string]string{"Owner First Name": "Dana"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestJotformSplitsFreeTextName(t *testing.T) {
	reg := DefaultRegistry(fixedClock())

	rec, err := reg.Map(SourceJotform, map[string]string{
		"Submission ID":                         "5891410427112",
		"Name":                                  "Marguerite Delacroix-Fontaine",
		"Email":                                 "mdf@example.org",
		"Best phone number to reach you":        "707 555 0123",
		"Street address where cats are located": "22 Bennett Valley Rd",
	})
	require.NoError(t, err)

	assert.Equal(t, "Marguerite", rec.FirstName)
	assert.Equal(t, "Delacroix-Fontaine", rec.LastName)
	assert.Equal(t, "707 555 0123", rec.Phone)
	assert.Equal(t, "22 Bennett Valley Rd", rec.Address)
}

func TestJotformPrefersSplitNameFields(t *testing.T) {
	reg := DefaultRegistry(fixedClock())

	rec, err := reg.Map(SourceJotform, map[string]string{
		"Submission ID": "5891410427113",
		"Name":          "ignored entirely",
		"First Name":    "Ty",
		"Last Name":     "Ubach",
	})
	require.NoError(t, err)

	assert.Equal(t, "Ty", rec.FirstName)
	assert.Equal(t, "Ubach", rec.LastName)
}

func TestAirtablePrefersCleanedColumns(t *testing.T) {
	reg := DefaultRegistry(fixedClock())

	rec, err := reg.Map(SourceAirtable, map[string]string{
		"Record ID":       "recA1B2C3D4",
		"First Name":      "Priya",
		"Last Name":       "Raman",
		"Email":           "PRIYA@EXAMPLE.COM ",
		"Clean Email":     "priya@example.com",
		"Phone":           "707.555.0456",
		"Clean Phone":     "7075550456",
		"Primary Address": "123 Main St, Santa Rosa",
	})
	require.NoError(t, err)

	assert.Equal(t, "priya@example.com", rec.Email)
	assert.Equal(t, "7075550456", rec.Phone)
	assert.Equal(t, "123 Main St, Santa Rosa", rec.Address)
}

func TestSplitNameSingleToken(t *testing.T) {
	first, last := splitName("Cher")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, last)
}
