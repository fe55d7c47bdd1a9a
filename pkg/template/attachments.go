package template

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Attachment size and count limits enforced on every email handler delivery.
const (
	MaxAttachmentSize  = 10 << 20 // 10 MiB per attachment
	MaxEmailSize       = 25 << 20 // 25 MiB total
	MaxAttachmentCount = 10
	MaxRecipients      = 50
)

// Attachment is a named byte payload pending inclusion in an email.
type Attachment struct {
	Filename string
	Content  []byte
}

var windowsReservedNames = regexp.MustCompile(`(?i)^(CON|PRN|AUX|NUL|COM[1-9]|LPT[1-9])(\.|$)`)
var unsafeFilenameChars = regexp.MustCompile(`[<>:"|?*]`)

// ValidateFilename rejects path traversal, Windows reserved device names,
// leading-dot hidden files, and filenames containing reserved characters.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("attachment filename must not be empty")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("attachment filename must not contain path separators or traversal sequences")
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("attachment filename must not begin with a dot")
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if windowsReservedNames.MatchString(base) {
		return fmt.Errorf("attachment filename %q is a reserved device name", name)
	}
	if unsafeFilenameChars.MatchString(name) {
		return fmt.Errorf("attachment filename contains unsafe characters")
	}
	return nil
}

// ValidateAttachments enforces per-attachment size, total email size, and
// attachment count limits, in addition to filename safety.
func ValidateAttachments(attachments []Attachment) error {
	if len(attachments) > MaxAttachmentCount {
		return fmt.Errorf("email has %d attachments, exceeding the maximum of %d", len(attachments), MaxAttachmentCount)
	}

	var total int
	for _, a := range attachments {
		if err := ValidateFilename(a.Filename); err != nil {
			return err
		}
		if len(a.Content) > MaxAttachmentSize {
			return fmt.Errorf("attachment %q is %d bytes, exceeding the per-attachment limit of %d", a.Filename, len(a.Content), MaxAttachmentSize)
		}
		total += len(a.Content)
	}
	if total > MaxEmailSize {
		return fmt.Errorf("email exceeds %d byte limit (total attachment size %d)", MaxEmailSize, total)
	}
	return nil
}
