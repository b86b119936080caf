package ingest

import "trapper/internal/resolve"

// SourceClinicHQ identifies clinic appointment exports.
const SourceClinicHQ = "clinichq"

// ClinicHQ adapts clinic report rows. Owner contact fields are prefixed
// "Owner ..." in every report version; the cell phone column is preferred
// over the landline when both are present.
type ClinicHQ struct{}

func (ClinicHQ) Source() string { return SourceClinicHQ }

func (ClinicHQ) Map(raw map[string]string) (resolve.StagedRecord, error) {
	recordID := firstPresent(raw, "Number", "number", "Appointment Number")
	if recordID == "" {
		return resolve.StagedRecord{}, missingRecordID(SourceClinicHQ)
	}
	return resolve.StagedRecord{
		SourceSystem:   SourceClinicHQ,
		SourceRecordID: recordID,
		FirstName:      firstPresent(raw, "Owner First Name", "owner_first_name"),
		LastName:       firstPresent(raw, "Owner Last Name", "owner_last_name"),
		Email:          firstPresent(raw, "Owner Email", "owner_email"),
		Phone:          firstPresent(raw, "Owner Cell Phone", "Owner Phone", "owner_phone"),
		Address:        firstPresent(raw, "Owner Address", "owner_address"),
	}, nil
}
