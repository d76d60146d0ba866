package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pkordes/fleetcore/internal/domain"
)

func TestEventType_Critical(t *testing.T) {
	for _, typ := range domain.AllEventTypes {
		want := typ == domain.EventEmergencyRaised ||
			typ == domain.EventEmergencyResolved ||
			typ == domain.EventEmergencyCancelled
		assert.Equal(t, want, typ.Critical(), typ)
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, domain.EventType("bus_late").Valid())
}

func TestAlertEnums_Valid(t *testing.T) {
	assert.True(t, domain.AlertMedical.Valid())
	assert.False(t, domain.AlertType("fire").Valid())
	assert.True(t, domain.SeverityCritical.Valid())
	assert.False(t, domain.Severity("urgent").Valid())
	assert.True(t, domain.AlertCancelled.Valid())
	assert.False(t, domain.AlertStatus("closed").Valid())
}

func TestEmergencyAlert_HasNotified(t *testing.T) {
	a := domain.EmergencyAlert{Notified: []string{"admin-1", "parent-7"}}
	assert.True(t, a.HasNotified("parent-7"))
	assert.False(t, a.HasNotified("driver-1"))
}
