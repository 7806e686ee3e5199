// Package schema validates transcription requests before any audio work.
package schema

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AllowedExtensions lists the upload extensions accepted, lower-case.
var AllowedExtensions = []string{".wav", ".mp3", ".webm", ".ogg", ".mp2"}

// Rejection reasons, also used as metric labels.
const (
	ReasonMissingFile          = "missing_file"
	ReasonUnsupportedExtension = "unsupported_extension"
	ReasonUnsupportedLanguage  = "unsupported_language"
	ReasonTooLarge             = "too_large"
	ReasonTooLong              = "too_long"
)

// ValidationError is a client-caused rejection.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// Validator checks file names and language codes.
type Validator struct {
	languages map[string]struct{}
	ordered   []string
}

// New returns a validator accepting the given language codes.
func New(supportedLanguages []string) *Validator {
	v := &Validator{languages: make(map[string]struct{}, len(supportedLanguages))}
	for _, l := range supportedLanguages {
		if _, dup := v.languages[l]; dup {
			continue
		}
		v.languages[l] = struct{}{}
		v.ordered = append(v.ordered, l)
	}
	return v
}

// SupportedLanguages returns the accepted language codes in configured order.
func (v *Validator) SupportedLanguages() []string {
	return append([]string(nil), v.ordered...)
}

// ValidateFilename checks the upload's extension against AllowedExtensions,
// ignoring case.
func (v *Validator) ValidateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return &ValidationError{
			Reason: ReasonMissingFile,
			Detail: fmt.Sprintf("No file uploaded. Allowed: %s", strings.Join(AllowedExtensions, ", ")),
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return &ValidationError{
		Reason: ReasonUnsupportedExtension,
		Detail: fmt.Sprintf("File extension not supported. Allowed: %s", strings.Join(AllowedExtensions, ", ")),
	}
}

// ValidateLanguage checks code against the supported set. Matching is exact.
func (v *Validator) ValidateLanguage(code string) error {
	if _, ok := v.languages[code]; ok {
		return nil
	}
	return &ValidationError{
		Reason: ReasonUnsupportedLanguage,
		Detail: fmt.Sprintf("Language '%s' not supported. Supported: %s", code, strings.Join(v.ordered, ", ")),
	}
}
