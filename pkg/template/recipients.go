package template

import (
	"fmt"
	"regexp"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// RecipientValidation is the result of ValidateRecipients.
type RecipientValidation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateRecipients checks recipient syntax, flags duplicates as warnings,
// and rejects lists exceeding MaxRecipients.
func ValidateRecipients(recipients []string) RecipientValidation {
	var errs, warnings []string
	seen := map[string]bool{}

	if len(recipients) > MaxRecipients {
		errs = append(errs, fmt.Sprintf("recipient count %d exceeds maximum of %d", len(recipients), MaxRecipients))
	}

	for _, r := range recipients {
		if !emailPattern.MatchString(r) {
			errs = append(errs, fmt.Sprintf("invalid recipient address: %q", r))
			continue
		}
		if seen[r] {
			warnings = append(warnings, fmt.Sprintf("duplicate recipient: %q", r))
			continue
		}
		seen[r] = true
	}

	return RecipientValidation{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}
