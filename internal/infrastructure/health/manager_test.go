package health

import (
	"errors"
	"testing"

	"options_ledger/pkg/logging"

	"github.com/stretchr/testify/assert"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)
	assert.True(t, hm.IsHealthy(), "empty manager is healthy")

	hm.Register("registry", func() error { return nil })
	assert.True(t, hm.IsHealthy())

	hm.Register("oracle", func() error { return errors.New("stale round") })
	assert.False(t, hm.IsHealthy())

	status := hm.GetStatus()
	assert.Equal(t, StatusHealthy, status["registry"])
	assert.Equal(t, "Unhealthy: stale round", status["oracle"])
	assert.Equal(t, []string{"oracle", "registry"}, hm.Components())
}

func TestHealthManager_CheckComponent(t *testing.T) {
	hm := NewHealthManager(logging.NewNop())
	failing := true
	hm.Register("store", func() error {
		if failing {
			return errors.New("locked")
		}
		return nil
	})

	ok, err := hm.CheckComponent("store")
	assert.False(t, ok)
	assert.EqualError(t, err, "locked")

	failing = false
	ok, err = hm.CheckComponent("store")
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, _ = hm.CheckComponent("missing")
	assert.False(t, ok)
}

func TestHealthManager_TransitionHook(t *testing.T) {
	hm := NewHealthManager(nil)
	type transition struct {
		component string
		healthy   bool
	}
	var seen []transition
	hm.SetTransitionHook(func(component string, healthy bool, err error) {
		seen = append(seen, transition{component, healthy})
	})

	var failure error
	hm.Register("oracle", func() error { return failure })

	hm.IsHealthy()
	assert.Empty(t, seen, "first healthy observation is not a transition")

	failure = errors.New("stale round")
	hm.IsHealthy()
	hm.IsHealthy()
	failure = nil
	hm.IsHealthy()

	assert.Equal(t, []transition{{"oracle", false}, {"oracle", true}}, seen)
}
