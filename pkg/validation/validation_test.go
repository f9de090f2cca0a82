package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "laptop", false},
		{"with dash and underscore", "home-pc_2", false},
		{"empty", "", true},
		{"path traversal", "../etc", true},
		{"space", "my phone", true},
		{"too long", strings.Repeat("a", MaxConfigNameLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfigName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTronAddress(t *testing.T) {
	assert.NoError(t, ValidateTronAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"))
	assert.Error(t, ValidateTronAddress(""))
	assert.Error(t, ValidateTronAddress("XR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"))
	assert.Error(t, ValidateTronAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6"))
	assert.Error(t, ValidateTronAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj60"))
}

func TestValidateCoreAddress(t *testing.T) {
	valid := "cb" + strings.Repeat("0a", 21)
	assert.NoError(t, ValidateCoreAddress(valid))
	assert.NoError(t, ValidateCoreAddress("0x"+strings.ToUpper(valid)))
	assert.Error(t, ValidateCoreAddress("cb12"))
	assert.Error(t, ValidateCoreAddress(strings.Repeat("zz", 22)))
}

func TestValidatePayerAddress(t *testing.T) {
	assert.NoError(t, ValidatePayerAddress("usdt", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"))
	assert.Error(t, ValidatePayerAddress("BTC", "whatever"))
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xCB0A", "cb0a"))
	assert.False(t, SameAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", "tr7nhqjekqxgtci8q8zy4pl8otszgjlj6t"))
}
