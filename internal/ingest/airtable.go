package ingest

import "trapper/internal/resolve"

// SourceAirtable identifies trapping-request case exports.
const SourceAirtable = "airtable"

// Airtable adapts trapping-request case rows. Exports sometimes carry
// pre-cleaned contact columns alongside the raw ones; the cleaned values
// win when present.
type Airtable struct{}

func (Airtable) Source() string { return SourceAirtable }

func (Airtable) Map(raw map[string]string) (resolve.StagedRecord, error) {
	recordID := firstPresent(raw, "Record ID", "record_id", "Airtable Record ID", "source_record_id")
	if recordID == "" {
		return resolve.StagedRecord{}, missingRecordID(SourceAirtable)
	}
	first := firstPresent(raw, "First Name", "first_name")
	last := firstPresent(raw, "Last Name", "last_name")
	if first == "" && last == "" {
		first, last = splitName(firstPresent(raw, "Name", "name"))
	}
	return resolve.StagedRecord{
		SourceSystem:   SourceAirtable,
		SourceRecordID: recordID,
		FirstName:      first,
		LastName:       last,
		Email:          firstPresent(raw, "Clean Email", "Email", "email"),
		Phone:          firstPresent(raw, "Clean Phone", "Phone", "phone"),
		Address:        firstPresent(raw, "Primary Address", "Address", "address"),
	}, nil
}
