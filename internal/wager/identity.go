package wager

import "regexp"

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9_:.\-]{1,64}$`)

// ValidateIdentity checks the shape of an authenticated caller identity
// (wallet address or agent id).
func ValidateIdentity(id string) error {
	if !identityPattern.MatchString(id) {
		return InvalidInput(CodeInvalidIdentity, "identity %q is malformed", id)
	}
	return nil
}
