package ingest

import "trapper/internal/resolve"

// SourceJotform identifies public appointment-request form submissions.
const SourceJotform = "jotform"

// Jotform adapts appointment-request submissions. The form collects split
// name fields, but older submissions only carry the free-text "Name", so
// that is split as a fallback. The address asked for is where the cats are,
// which is exactly the address the engine wants.
type Jotform struct{}

func (Jotform) Source() string { return SourceJotform }

func (Jotform) Map(raw map[string]string) (resolve.StagedRecord, error) {
	recordID := firstPresent(raw, "Submission ID", "submission_id")
	if recordID == "" {
		return resolve.StagedRecord{}, missingRecordID(SourceJotform)
	}
	first := firstPresent(raw, "First Name", "first_name")
	last := firstPresent(raw, "Last Name", "last_name")
	if first == "" && last == "" {
		first, last = splitName(firstPresent(raw, "Name", "name"))
	}
	return resolve.StagedRecord{
		SourceSystem:   SourceJotform,
		SourceRecordID: recordID,
		FirstName:      first,
		LastName:       last,
		Email:          firstPresent(raw, "Email", "email"),
		Phone:          firstPresent(raw, "Best phone number to reach you", "Phone", "phone"),
		Address: firstPresent(raw,
			"Clean Address (Cats)",
			"Street address where cats are located",
			"cats_address"),
	}, nil
}
