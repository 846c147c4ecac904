package domain

import "strings"

// Gender is the closed enumeration offered on the participant form.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// Genders lists the accepted gender values in display order.
func Genders() []Gender {
	return []Gender{GenderMale, GenderFemale, GenderOther}
}

// ParseGender matches value case-insensitively against the enumeration.
func ParseGender(value string) (Gender, bool) {
	trimmed := strings.TrimSpace(value)
	for _, g := range Genders() {
		if strings.EqualFold(trimmed, string(g)) {
			return g, true
		}
	}
	return "", false
}

// ParticipantProfile holds the attributes a participant supplies before ads are generated.
type ParticipantProfile struct {
	Name           string
	Location       string
	Age            int
	Gender         Gender
	PurchaseIntent string
}

// ProfileRules bounds profile values.
type ProfileRules struct {
	MinAge         int
	MaxAge         int
	MaxFieldLength int
}

// DefaultProfileRules mirrors the production survey form.
func DefaultProfileRules() ProfileRules {
	return ProfileRules{MinAge: 18, MaxAge: 110, MaxFieldLength: 80}
}

// Validate checks required fields and bounds. Purchase intent may be empty.
func (p ParticipantProfile) Validate(rules ProfileRules) error {
	if rules.MaxFieldLength <= 0 {
		rules.MaxFieldLength = DefaultProfileRules().MaxFieldLength
	}
	fields := map[string]string{}
	checkText := func(key, label, value string, required bool) {
		switch {
		case required && strings.TrimSpace(value) == "":
			fields[key] = label + " is required"
		case len([]rune(value)) > rules.MaxFieldLength:
			fields[key] = label + " is too long"
		}
	}
	checkText("name", "Name", p.Name, true)
	checkText("location", "City of residence", p.Location, true)
	checkText("purchase_intent", "Purchase intent", p.PurchaseIntent, false)

	if p.Age < rules.MinAge || p.Age > rules.MaxAge {
		fields["age"] = "Age is out of range"
	}
	if p.Gender == "" {
		fields["gender"] = "Gender is required"
	} else if _, ok := ParseGender(string(p.Gender)); !ok {
		fields["gender"] = "Gender is not a valid option"
	}
	return NewValidationError(fields)
}
