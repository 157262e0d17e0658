// v0
// internal/control/decide.go
package control

import (
	"fmt"
	"math"
)

type Quantity int

const (
	Temperature Quantity = iota
	Humidity
)

var Quantities = [...]Quantity{Temperature, Humidity}

func (q Quantity) String() string {
	if q == Humidity {
		return "humidity"
	}
	return "temperature"
}

// Label is the short tag shown on the operator indicator.
func (q Quantity) Label() string {
	if q == Humidity {
		return "HUMI"
	}
	return "TEMP"
}

// Unit is appended to values in operator messages.
func (q Quantity) Unit() string {
	if q == Humidity {
		return "%"
	}
	return "F"
}

func ParseQuantity(s string) (Quantity, bool) {
	switch s {
	case "temperature", "temp":
		return Temperature, true
	case "humidity", "humi":
		return Humidity, true
	}
	return 0, false
}

// Range is an acceptable band; both bounds are inside the band.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func (r Range) Validate() error {
	if math.IsNaN(r.Low) || math.IsNaN(r.High) || math.IsInf(r.Low, 0) || math.IsInf(r.High, 0) {
		return fmt.Errorf("%w: bounds must be finite", ErrInvalidRange)
	}
	if r.Low > r.High {
		return fmt.Errorf("%w: low %.2f above high %.2f", ErrInvalidRange, r.Low, r.High)
	}
	return nil
}

// DefaultRange leaves a quantity effectively unconstrained until an operator narrows it.
func DefaultRange(q Quantity) Range {
	if q == Humidity {
		return Range{Low: 0, High: 100}
	}
	return Range{Low: -math.MaxFloat64, High: math.MaxFloat64}
}

// Sample is the latest known value of a quantity.
type Sample struct {
	Value float64
	Known bool
}

func Known(v float64) Sample { return Sample{Value: v, Known: true} }

type Level int

const (
	LevelUnknown Level = iota
	LevelLow
	LevelOK
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelOK:
		return "OK"
	case LevelHigh:
		return "HIGH"
	default:
		return "UNK"
	}
}

// Classify compares a sample against its range. Only strict excursions trigger.
func Classify(s Sample, r Range) Level {
	switch {
	case !s.Known:
		return LevelUnknown
	case s.Value < r.Low:
		return LevelLow
	case s.Value > r.High:
		return LevelHigh
	default:
		return LevelOK
	}
}

// Decision is the complete actuator state for one cycle.
type Decision struct {
	TemperatureStatus string `json:"temperatureStatus"`
	HumidityStatus    string `json:"humidityStatus"`
	Heater            bool   `json:"heater"`
	Chiller           bool   `json:"chiller"`
	Humidifier        bool   `json:"humidifier"`
	Dehumidifier      bool   `json:"dehumidifier"`
}

// Decide computes the actuator state for both quantities independently. The primary
// actuator (heater, humidifier) runs when the value is low and the opposing one
// (chiller, dehumidifier) when it is high; nothing runs in range or when unknown.
func Decide(temperature, humidity Sample, tr, hr Range) Decision {
	tl := Classify(temperature, tr)
	hl := Classify(humidity, hr)
	return Decision{
		TemperatureStatus: Status(Temperature, tl),
		HumidityStatus:    Status(Humidity, hl),
		Heater:            tl == LevelLow,
		Chiller:           tl == LevelHigh,
		Humidifier:        hl == LevelLow,
		Dehumidifier:      hl == LevelHigh,
	}
}

func Status(q Quantity, l Level) string { return q.Label() + " " + l.String() }
