// v0
// internal/control/decide_test.go
package control

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestDecideTemperatureBoundaries(t *testing.T) {
	tr := Range{Low: 60, High: 80}
	hr := DefaultRange(Humidity)
	tests := []struct {
		name    string
		value   float64
		status  string
		heater  bool
		chiller bool
	}{
		{"at low", 60, "TEMP OK", false, false},
		{"at high", 80, "TEMP OK", false, false},
		{"just below", 59.999, "TEMP LOW", true, false},
		{"just above", 80.001, "TEMP HIGH", false, true},
		{"middle", 70, "TEMP OK", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(Known(tc.value), Known(50), tr, hr)
			if d.TemperatureStatus != tc.status || d.Heater != tc.heater || d.Chiller != tc.chiller {
				t.Fatalf("Decide(%v)=%+v", tc.value, d)
			}
			if d.Humidifier || d.Dehumidifier || d.HumidityStatus != "HUMI OK" {
				t.Fatalf("humidity coupled to temperature: %+v", d)
			}
		})
	}
}

func TestDecideHumidity(t *testing.T) {
	hr := Range{Low: 40, High: 55}
	low := Decide(Sample{}, Known(39), DefaultRange(Temperature), hr)
	if !low.Humidifier || low.Dehumidifier || low.HumidityStatus != "HUMI LOW" {
		t.Fatalf("low humidity: %+v", low)
	}
	high := Decide(Sample{}, Known(56), DefaultRange(Temperature), hr)
	if high.Humidifier || !high.Dehumidifier || high.HumidityStatus != "HUMI HIGH" {
		t.Fatalf("high humidity: %+v", high)
	}
}

func TestDecideUnknownKeepsActuatorsOff(t *testing.T) {
	d := Decide(Sample{}, Sample{}, Range{Low: 60, High: 80}, Range{Low: 40, High: 50})
	if d.Heater || d.Chiller || d.Humidifier || d.Dehumidifier {
		t.Fatalf("actuators on without readings: %+v", d)
	}
	if d.TemperatureStatus != "TEMP UNK" || d.HumidityStatus != "HUMI UNK" {
		t.Fatalf("statuses: %+v", d)
	}
}

func TestDefaultTemperatureRangeIsUnconstrained(t *testing.T) {
	d := Decide(Known(-400), Known(0), DefaultRange(Temperature), DefaultRange(Humidity))
	if d.TemperatureStatus != "TEMP OK" || d.HumidityStatus != "HUMI OK" {
		t.Fatalf("default ranges constrained: %+v", d)
	}
}

func TestRangeValidate(t *testing.T) {
	bad := []Range{{Low: 5, High: 1}, {Low: math.NaN(), High: 1}, {Low: 0, High: math.Inf(1)}}
	for _, r := range bad {
		if err := r.Validate(); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("Validate(%+v)=%v", r, err)
		}
	}
	if err := (Range{Low: 3, High: 3}).Validate(); err != nil {
		t.Fatalf("equal bounds rejected: %v", err)
	}
}

func TestRangesSetAndConcurrentRead(t *testing.T) {
	rs := DefaultRanges()
	prev, err := rs.Set(Temperature, Range{Low: 60, High: 80})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if prev != DefaultRange(Temperature) {
		t.Fatalf("previous range %+v", prev)
	}
	if _, err := rs.Set(Humidity, Range{Low: 70, High: 10}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("invalid humidity accepted: %v", err)
	}
	if _, err := rs.Set(Quantity(7), Range{}); !errors.Is(err, ErrUnknownQuantity) {
		t.Fatalf("unknown quantity accepted: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			_, _ = rs.Set(Humidity, Range{Low: v, High: v + 10})
		}(float64(i))
		go func() {
			defer wg.Done()
			r := rs.Get(Humidity)
			if r.High-r.Low != 10 && r != DefaultRange(Humidity) {
				t.Errorf("torn read %+v", r)
			}
		}()
	}
	wg.Wait()
	if len(rs.All()) != 2 {
		t.Fatalf("All()=%v", rs.All())
	}
}

func TestParseQuantity(t *testing.T) {
	if q, ok := ParseQuantity("humidity"); !ok || q != Humidity {
		t.Fatalf("humidity parse")
	}
	if _, ok := ParseQuantity("pressure"); ok {
		t.Fatalf("pressure parsed")
	}
}
