// Package ingest maps raw vendor payloads into the engine's staged record
// shape. Each source system gets a typed adapter so its header quirks stay
// out of the resolution core.
package ingest

import (
	"strings"
	"time"

	"trapper/internal/resolve"
	dErrors "trapper/pkg/domain-errors"
)

// Adapter converts one vendor's key/value payload into a staged record.
type Adapter interface {
	// Source returns the source system name the adapter handles.
	Source() string
	// Map builds a staged record from a raw row. It fails when the row
	// lacks the vendor's record identifier.
	Map(raw map[string]string) (resolve.StagedRecord, error)
}

// Registry dispatches rows to the adapter registered for their source.
type Registry struct {
	adapters map[string]Adapter
	now      func() time.Time
}

// RegistryOption adjusts registry construction.
type RegistryOption func(*Registry)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters []Adapter, opts ...RegistryOption) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		now:      time.Now,
	}
	for _, a := range adapters {
		r.adapters[a.Source()] = a
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRegistry wires the three production source systems.
func DefaultRegistry(opts ...RegistryOption) *Registry {
	return NewRegistry([]Adapter{ClinicHQ{}, Jotform{}, Airtable{}}, opts...)
}

// Map converts a raw row from the named source. Unknown sources are
// rejected rather than guessed at.
func (r *Registry) Map(source string, raw map[string]string) (resolve.StagedRecord, error) {
	adapter, ok := r.adapters[source]
	if !ok {
		return resolve.StagedRecord{}, dErrors.Newf(dErrors.CodeInvalidInput,
			"unknown source system: %q", source)
	}
	rec, err := adapter.Map(raw)
	if err != nil {
		return resolve.StagedRecord{}, err
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = r.now().UTC()
	}
	return rec, nil
}

// firstPresent returns the first non-blank value among the candidate keys.
// Vendor exports rename headers between report versions, so every field
// carries its historical aliases.
func firstPresent(raw map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(raw[k]); v != "" {
			return v
		}
	}
	return ""
}

// splitName breaks a single free-text name into first and last on the final
// space. Single-token names land entirely in first.
func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	idx := strings.LastIndex(full, " ")
	if idx < 0 {
		return full, ""
	}
	return strings.TrimSpace(full[:idx]), strings.TrimSpace(full[idx+1:])
}

func missingRecordID(source string) error {
	return dErrors.Newf(dErrors.CodeValidation, "%s row is missing its record identifier", source)
}
