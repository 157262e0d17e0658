// v1
// internal/simulator/model.go
package simulator

import (
	"time"

	"nrgchamp/ecsmonitor/internal/dispatch"
	"nrgchamp/ecsmonitor/internal/registry"
)

// Environment is the simulated room. Actuators are shared by every controller node of
// a role: rotating to a backup node keeps the equipment state.
type Environment struct {
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	Heater       bool    `json:"heater"`
	Chiller      bool    `json:"chiller"`
	Humidifier   bool    `json:"humidifier"`
	Dehumidifier bool    `json:"dehumidifier"`
}

func (e *Environment) integrate(cfg Config, dt time.Duration) {
	s := dt.Seconds()
	e.Temperature += cfg.Alpha * (cfg.OutdoorTemperature - e.Temperature) * s
	if e.Heater {
		e.Temperature += cfg.HeatRate * s
	}
	if e.Chiller {
		e.Temperature -= cfg.CoolRate * s
	}

	e.Humidity += cfg.Alpha * (cfg.OutdoorHumidity - e.Humidity) * s
	if e.Humidifier {
		e.Humidity += cfg.HumidRate * s
	}
	if e.Dehumidifier {
		e.Humidity -= cfg.DryRate * s
	}
	if e.Humidity < 0 {
		e.Humidity = 0
	}
	if e.Humidity > 100 {
		e.Humidity = 100
	}
}

// apply executes a command received by a controller of role r. Unknown payloads are
// reported so the node does not confirm them.
func (e *Environment) apply(r registry.Role, payload string) bool {
	switch r {
	case registry.ControllerTemperature:
		switch payload {
		case dispatch.HeaterOn:
			e.Heater = true
		case dispatch.HeaterOff:
			e.Heater = false
		case dispatch.ChillerOn:
			e.Chiller = true
		case dispatch.ChillerOff:
			e.Chiller = false
		default:
			return false
		}
	case registry.ControllerHumidity:
		switch payload {
		case dispatch.HumidifierOn:
			e.Humidifier = true
		case dispatch.HumidifierOff:
			e.Humidifier = false
		case dispatch.DehumidifierOn:
			e.Dehumidifier = true
		case dispatch.DehumidifierOff:
			e.Dehumidifier = false
		default:
			return false
		}
	default:
		return false
	}
	return true
}

// Node is one simulated participant. A failed node neither publishes nor answers.
type Node struct {
	ID          int           `json:"id"`
	Role        registry.Role `json:"-"`
	RoleKey     string        `json:"role"`
	Failed      bool          `json:"failed"`
	LastCommand string        `json:"lastCommand,omitempty"`
}
