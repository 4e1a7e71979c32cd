package permissions

import (
	"testing"

	"github.com/medflow/medtrack/pkg/actor"
	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		perms    []string
		required string
		want     bool
	}{
		{"nothing required", nil, "", true},
		{"full access", []string{"*"}, ImportRun, true},
		{"exact", []string{DispenseCreate}, DispenseCreate, true},
		{"wildcard", []string{"dispense.*"}, DispenseWithdraw, true},
		{"wildcard needs a dot boundary", []string{"lot.*"}, LotsWrite, false},
		{"other resource", []string{"dispense.*"}, LotsWrite, false},
		{"no grants", nil, DispenseCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.perms, tt.required))
		})
	}
}

func TestAllows(t *testing.T) {
	student := &actor.Actor{ID: "s", Role: actor.RoleStudent}
	provider := &actor.Actor{ID: "p", Role: actor.RoleProvider}
	pharmacist := &actor.Actor{ID: "ph", Role: actor.RolePharmacist}
	admin := &actor.Actor{ID: "a", Role: actor.RoleAdmin}

	assert.True(t, Allows(student, DispenseCreate))
	assert.False(t, Allows(student, DispenseWithdraw))

	assert.True(t, Allows(provider, DispenseWithdraw))
	assert.False(t, Allows(provider, FormularyWrite))

	assert.True(t, Allows(pharmacist, ImportRun))
	assert.True(t, Allows(pharmacist, LotsWrite))

	assert.True(t, Allows(admin, "anything.at.all"))

	assert.False(t, Allows(&actor.Actor{ID: "x", Role: "janitor"}, DispenseCreate))
	assert.False(t, Allows(nil, DispenseCreate))
}
