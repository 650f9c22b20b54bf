// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import "fmt"

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyPALParseError AnomalyType = iota
	AnomalyLowVoltage
	AnomalyZeroLQI
	AnomalyInvalidTemp
	AnomalyInvalidHumidity
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyPALParseError:
		return "pal_parse_error"
	case AnomalyLowVoltage:
		return "low_voltage"
	case AnomalyZeroLQI:
		return "zero_lqi"
	case AnomalyInvalidTemp:
		return "invalid_temp"
	case AnomalyInvalidHumidity:
		return "invalid_humidity"
	default:
		return fmt.Sprintf("anomaly_%d", int(a))
	}
}

// Thresholds used by ValidatePacket
const (
	MinSupplyMillivolts = 2000
	MinTempCenti        = -4000
	MaxTempCenti        = 12500
	MaxHumidityCenti    = 10000
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks a decoded packet for anomalies.
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p Packet) []ValidationError {
	errors := []ValidationError{}

	info := p.Info()
	if info.LQI == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyZeroLQI,
			Message: fmt.Sprintf("Zero LQI from %08X", info.SrcAddr),
			Details: map[string]interface{}{"src": info.SrcAddr},
		})
	}
	if info.Volt != 0 && info.Volt != NoVolt && info.Volt < MinSupplyMillivolts {
		errors = append(errors, ValidationError{
			Type:    AnomalyLowVoltage,
			Message: fmt.Sprintf("Low supply voltage (%d mV, min %d)", info.Volt, MinSupplyMillivolts),
			Details: map[string]interface{}{"volt": info.Volt, "min": MinSupplyMillivolts},
		})
	}

	if pal, ok := p.(*PAL); ok {
		errors = append(errors, validatePAL(pal)...)
	}

	return errors
}

// validatePAL validates PAL structure and the AMB and ARIA ranges
func validatePAL(p *PAL) []ValidationError {
	errors := []ValidationError{}

	if p.ParseError {
		errors = append(errors, ValidationError{
			Type:    AnomalyPALParseError,
			Message: fmt.Sprintf("PAL parse error (board=%s, sensors=%d)", p.Board, p.Sensors),
			Details: map[string]interface{}{"board": p.Board.String(), "sensors": p.Sensors},
		})
		return errors
	}

	if a, ok := p.Amb(); ok {
		errors = append(errors, validateEnv(a.Temp, a.Humidity)...)
	}
	if a, ok := p.Aria(); ok {
		errors = append(errors, validateEnv(a.Temp, a.Humidity)...)
	}

	return errors
}

// validateEnv range checks a temperature and humidity pair, both in
// hundredths.
func validateEnv(temp int16, humidity uint16) []ValidationError {
	errors := []ValidationError{}

	if temp != NoTemp && (temp < MinTempCenti || temp > MaxTempCenti) {
		c := float64(temp) / 100
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidTemp,
			Message: fmt.Sprintf("Temperature out of range (%.2f°C, valid: -40 to 125°C)", c),
			Details: map[string]interface{}{"value": c, "min": -40.0, "max": 125.0},
		})
	}
	if humidity != NoHumidity && humidity > MaxHumidityCenti {
		pct := float64(humidity) / 100
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidHumidity,
			Message: fmt.Sprintf("Humidity out of range (%.2f%%, max 100%%)", pct),
			Details: map[string]interface{}{"value": pct, "max": 100.0},
		})
	}

	return errors
}
