// Package ensemble reconciles PHI span candidates produced by independent
// detectors into one filtered, non-overlapping, start-ordered span sequence.
package ensemble

import "strings"

// EntityType names the kind of PHI a span holds.
type EntityType string

// Canonical entity types emitted after label normalization.
const (
	EntityPerson        EntityType = "PERSON"
	EntityLocation      EntityType = "LOCATION"
	EntityOrganization  EntityType = "ORGANIZATION"
	EntityDateTime      EntityType = "DATE_TIME"
	EntityPhoneNumber   EntityType = "PHONE_NUMBER"
	EntityEmailAddress  EntityType = "EMAIL_ADDRESS"
	EntityID            EntityType = "ID"
	EntityPostalCode    EntityType = "POSTAL_CODE"
	EntityAddressNumber EntityType = "ADDRESS_NUMBER"
	EntityAge           EntityType = "AGE"
	EntityGender        EntityType = "GENDER"
)

// KnownTypes lists the canonical entity types in a fixed order.
var KnownTypes = []EntityType{
	EntityPerson,
	EntityLocation,
	EntityOrganization,
	EntityDateTime,
	EntityPhoneNumber,
	EntityEmailAddress,
	EntityID,
	EntityPostalCode,
	EntityAddressNumber,
	EntityAge,
	EntityGender,
}

// BlockedTypes are detector labels that are never redacted.
var BlockedTypes = []EntityType{
	"US_DRIVER_LICENSE",
	"US_SSN",
	"US_PASSPORT",
	"US_BANK_NUMBER",
	"URL",
	"MISC",
}

var labelNormalization = map[string]EntityType{
	"PER":            EntityPerson,
	"PERSON":         EntityPerson,
	"PATIENT":        EntityPerson,
	"STAFF":          EntityPerson,
	"HCW":            EntityPerson,
	"LOC":            EntityLocation,
	"LOCATION":       EntityLocation,
	"GPE":            EntityLocation,
	"HOSP":           EntityLocation,
	"HOSPITAL":       EntityLocation,
	"FACILITY":       EntityLocation,
	"ORG":            EntityOrganization,
	"ORGANIZATION":   EntityOrganization,
	"PATORG":         EntityOrganization,
	"VENDOR":         EntityOrganization,
	"EMAIL":          EntityEmailAddress,
	"EMAIL_ADDRESS":  EntityEmailAddress,
	"PHONE":          EntityPhoneNumber,
	"PHONE_NUMBER":   EntityPhoneNumber,
	"DATE":           EntityDateTime,
	"TIME":           EntityDateTime,
	"DATE_TIME":      EntityDateTime,
	"POSTAL_CODE":    EntityPostalCode,
	"ZIP":            EntityPostalCode,
	"PIN":            EntityPostalCode,
	"ADDRESS_NUMBER": EntityAddressNumber,
	"ADDRESS":        EntityAddressNumber,
	"AGE":            EntityAge,
	"GENDER":         EntityGender,
	"SEX":            EntityGender,
	"ID":             EntityID,
}

// NormalizeLabel maps a raw detector label onto a canonical entity type.
// Unknown labels are upper-cased and passed through.
func NormalizeLabel(label string) EntityType {
	upper := strings.ToUpper(strings.TrimSpace(label))
	if t, ok := labelNormalization[upper]; ok {
		return t
	}
	return EntityType(upper)
}

// IsKnown reports whether t is one of the canonical entity types.
func (t EntityType) IsKnown() bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Tokenizable reports whether t can appear inside a type token and be found
// again by FindTokens.
func (t EntityType) Tokenizable() bool {
	return t != "" && !strings.ContainsAny(string(t), "[]")
}

// Token returns the placeholder substituted for a redacted span of this type.
func (t EntityType) Token() string {
	return "[" + string(t) + "]"
}
