package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/model"
)

const (
	// Size limits
	MaxKeySize     = 1024             // 1 KB
	MaxPayloadSize = 10 * 1024 * 1024 // 10 MB
	MaxKeyPathSize = 4096

	// Formula limits
	MaxFormulaSize = 64 * 1024

	// Longest prefix of an oversized key quoted back in errors
	quotedPrefix = 32
)

// Validator validates store operations
type Validator struct {
	maxKeySize     int
	maxPayloadSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:     MaxKeySize,
		maxPayloadSize: MaxPayloadSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize, maxPayloadSize int) *Validator {
	return &Validator{
		maxKeySize:     maxKeySize,
		maxPayloadSize: maxPayloadSize,
	}
}

// ValidateKey validates a top-level key
func (v *Validator) ValidateKey(key string) error {
	// Check if empty
	if key == "" {
		return errors.InvalidKey(key, "key cannot be empty")
	}

	// Check size
	if len(key) > v.maxKeySize {
		return errors.InvalidKey(truncate(key, quotedPrefix), fmt.Sprintf("key exceeds maximum size of %d bytes", v.maxKeySize))
	}

	// Control characters would break the line protocol
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.InvalidKey(key, "key cannot contain control characters")
		}
	}

	return nil
}

// ValidateKeyPath parses and validates a dotted keypath
func (v *Validator) ValidateKeyPath(path string) (model.KeyPath, error) {
	if len(path) > MaxKeyPathSize {
		return nil, errors.InvalidKeyPath(truncate(path, quotedPrefix), fmt.Errorf("keypath exceeds maximum size of %d bytes", MaxKeyPathSize))
	}

	keyPath, err := model.ParseKeyPath(path)
	if err != nil {
		return nil, errors.InvalidKeyPath(path, err)
	}

	if err := v.ValidateKey(keyPath.Root()); err != nil {
		return nil, errors.InvalidKeyPath(path, err)
	}

	return keyPath, nil
}

// ValidatePayload checks the raw size of a request payload
func (v *Validator) ValidatePayload(payload string) error {
	if len(payload) > v.maxPayloadSize {
		return errors.PayloadTooLarge(len(payload), v.maxPayloadSize)
	}
	return nil
}

// ValidateRecord checks every top-level key of a PUT record
func (v *Validator) ValidateRecord(record model.Record) error {
	if len(record.Fields) == 0 {
		return errors.InvalidArgument("record has no fields", nil)
	}
	for key := range record.Fields {
		if err := v.ValidateKey(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFormula performs the cheap checks done before parsing
func (v *Validator) ValidateFormula(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.InvalidFormula("formula is empty")
	}
	if len(text) > MaxFormulaSize {
		return errors.PayloadTooLarge(len(text), MaxFormulaSize)
	}
	return nil
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
