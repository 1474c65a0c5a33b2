// internal/writer/builder.go
package writer

import (
	"time"

	cfg "github.com/tamzrod/camlink/internal/config"
	wmodbus "github.com/tamzrod/camlink/internal/writer/modbus"
)

// BuildPlan collects the status destinations of every sensor with a
// status slot. Assumes config has already passed validation and
// normalization.
func BuildPlan(c *cfg.Config) Plan {
	var plan Plan
	if c.StatusMemory == nil {
		return plan
	}

	for _, s := range c.Sensors {
		if s.StatusSlot == nil {
			continue
		}
		plan.Status = append(plan.Status, StatusPlan{
			SensorID:   s.ID,
			Endpoint:   c.StatusMemory.Endpoint,
			UnitID:     c.StatusMemory.UnitID,
			BaseSlot:   *s.StatusSlot,
			DeviceName: s.DeviceName,
		})
	}

	return plan
}

// BuildEndpointClient creates the status memory client.
func BuildEndpointClient(sm cfg.StatusMemoryConfig) (*wmodbus.EndpointClient, error) {
	return wmodbus.NewEndpointClient(wmodbus.Config{
		Endpoint: sm.Endpoint,
		Timeout:  time.Duration(sm.TimeoutMs) * time.Millisecond,
	})
}
