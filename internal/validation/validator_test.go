package validation_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/validation"
)

func TestValidator_ValidateKey(t *testing.T) {
	v := validation.NewValidator()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "simple", key: "ageqRfZ", wantErr: false},
		{name: "with spaces", key: "first name", wantErr: false},
		{name: "unicode", key: "ключ", wantErr: false},
		{name: "empty", key: "", wantErr: true},
		{name: "newline", key: "a\nb", wantErr: true},
		{name: "null byte", key: "a\x00b", wantErr: true},
		{name: "too large", key: strings.Repeat("k", validation.MaxKeySize+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidKey, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateKey_Oversized(t *testing.T) {
	v := validation.NewValidatorWithLimits(8, 1024)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "shorter than quoted prefix", key: "0123456789", want: "'0123456789'"},
		{name: "long ascii", key: strings.Repeat("x", 40), want: "'" + strings.Repeat("x", 32) + "...'"},
		{name: "multibyte", key: strings.Repeat("é", 20) + "z", want: "'" + strings.Repeat("é", 16) + "...'"},
		{name: "cut inside a rune", key: "a" + strings.Repeat("é", 20), want: "'a" + strings.Repeat("é", 15) + "...'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateKey(tt.key)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidKey, errors.GetCode(err))
			assert.True(t, utf8.ValidString(err.Error()))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidator_ValidateKeyPath_Oversized(t *testing.T) {
	v := validation.NewValidator()

	_, err := v.ValidateKeyPath("a" + strings.Repeat("é", validation.MaxKeyPathSize/2))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidKeyPath, errors.GetCode(err))
	assert.True(t, utf8.ValidString(err.Error()))
}

func TestValidator_ValidateKeyPath(t *testing.T) {
	v := validation.NewValidator()

	path, err := v.ValidateKeyPath("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, model.KeyPath{"a", "b", "c"}, path)

	for _, bad := range []string{"", ".a", "a.", "a..b"} {
		_, err := v.ValidateKeyPath(bad)
		require.Error(t, err, bad)
		assert.Equal(t, errors.ErrCodeInvalidKeyPath, errors.GetCode(err))
	}
}

func TestValidator_ValidateRecord(t *testing.T) {
	v := validation.NewValidatorWithLimits(8, 1024)

	ok := model.Record{Fields: map[string]model.Value{"short": model.Number(1)}}
	assert.NoError(t, v.ValidateRecord(ok))

	long := model.Record{Fields: map[string]model.Value{strings.Repeat("x", 40): model.Number(1)}}
	assert.Error(t, v.ValidateRecord(long))

	assert.Error(t, v.ValidateRecord(model.Record{}))
}

func TestValidator_ValidatePayload(t *testing.T) {
	v := validation.NewValidatorWithLimits(8, 10)

	assert.NoError(t, v.ValidatePayload("0123456789"))
	err := v.ValidatePayload("0123456789a")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePayloadTooLarge, errors.GetCode(err))
}
