package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    domain.Role
		wantErr bool
	}{
		{"admin", domain.RoleAdmin, false},
		{"editor", domain.RoleEditor, false},
		{"viewer", domain.RoleViewer, false},
		{"", "", true},
		{"superadmin", "", true},
		{"Admin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := domain.ParseRole(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_CanWrite(t *testing.T) {
	assert.True(t, domain.RoleAdmin.CanWrite())
	assert.True(t, domain.RoleEditor.CanWrite())
	assert.False(t, domain.RoleViewer.CanWrite())
}

func TestActor_Can(t *testing.T) {
	actor := domain.Actor{
		ID:           "ops-1",
		Role:         domain.RoleAdmin,
		Capabilities: []domain.Capability{domain.CapRevealSensitive},
	}
	assert.True(t, actor.Can(domain.CapRevealSensitive))
	assert.False(t, actor.Can(domain.CapModifyPolicy))
}

func TestSystemActor_HoldsNoCapabilities(t *testing.T) {
	sys := domain.System()
	assert.False(t, sys.Can(domain.CapRevealSensitive))
	assert.False(t, sys.Can(domain.CapModifyPolicy))
}

func TestParseConsentPurpose(t *testing.T) {
	p, err := domain.ParseConsentPurpose("treatment")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentPurposeTreatment, p)

	_, err = domain.ParseConsentPurpose("surveillance")
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestParseDataType(t *testing.T) {
	d, err := domain.ParseDataType("patient")
	require.NoError(t, err)
	assert.Equal(t, domain.DataTypePatient, d)

	_, err = domain.ParseDataType("document")
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestRetainedTypes_ExcludeConsentAndPolicy(t *testing.T) {
	for _, d := range domain.RetainedTypes() {
		assert.NotEqual(t, domain.DataTypeConsent, d)
		assert.NotEqual(t, domain.DataTypePolicy, d)
	}
}
