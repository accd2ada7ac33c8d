package model

import (
	"fmt"
	"regexp"
)

var specIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateSpec enforces spec §4.1's Spec Model validation: id matches
// ^[a-z][a-z0-9_]{0,63}$, goal is non-empty, and acceptance is a non-empty
// list. It returns a *Error of KindSpecInvalid carrying the offending field
// as Op and the reason as Message, per SpecInvalid{field, reason}.
func ValidateSpec(spec Spec) error {
	if !specIDPattern.MatchString(spec.ID) {
		return specInvalid("id", fmt.Sprintf("%q does not match ^[a-z][a-z0-9_]{0,63}$", spec.ID))
	}
	if len(spec.Goal) < 1 {
		return specInvalid("goal", "must be at least 1 character")
	}
	if len(spec.Acceptance) == 0 {
		return specInvalid("acceptance", "must be a non-empty list of prose criteria")
	}
	return nil
}

func specInvalid(field, reason string) *Error {
	return New(KindSpecInvalid, field, reason)
}
