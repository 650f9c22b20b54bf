// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

// Mag is the MAG PAL (magnet switch) data set.
type Mag struct {
	Volt uint16
	// MagState: 0 no magnet, 1 N pole, 2 S pole, 0x7F not reported
	MagState uint8
	// Regular is set when the packet was a periodic transmit rather than
	// a state change.
	Regular bool
	Stored  uint32
}

// Amb is the AMB PAL (ambient sensor) data set.
type Amb struct {
	Volt uint16
	// Temp in 1/100 degrees C
	Temp int16
	// Humidity in 1/100 %RH
	Humidity uint16
	Lux      uint32
	Stored   uint32
}

// MaxMotSamples is the number of accelerometer samples a MOT PAL packet
// can carry.
const MaxMotSamples = 16

// Mot is the MOT PAL (accelerometer) data set. Axis values are in mG.
type Mot struct {
	Volt       uint16
	Samples    int
	SampleRate uint8
	X, Y, Z    [MaxMotSamples]int16
	Stored     uint32
}

// MaxCueSamples is the number of accelerometer samples a TWELITE CUE
// packet can carry.
const MaxCueSamples = 10

// Cue is the TWELITE CUE data set.
type Cue struct {
	Volt       uint16
	ADC1       uint16
	MagState   uint8
	MagRegular bool
	Samples    int
	SampleRate uint8
	X, Y, Z    [MaxCueSamples]int16
	Stored     uint32
}

// Aria is the TWELITE ARIA data set: a magnet switch plus temperature
// and humidity.
type Aria struct {
	Volt       uint16
	ADC1       uint16
	MagState   uint8
	MagRegular bool
	// Temp in 1/100 degrees C
	Temp int16
	// Humidity in 1/100 %RH
	Humidity uint16
	Stored   uint32
}

var magFields = []field{
	{Subtype: SensorVolt, Extra: VoltPower, Width: 2, MaxCount: 1},
	{Subtype: SensorHall, Extra: 0x00, Width: 1, MaxCount: 1},
}

var ambFields = []field{
	{Subtype: SensorVolt, Extra: VoltPower, Width: 2, MaxCount: 1},
	{Subtype: SensorTemp, Extra: 0x00, Width: 2, MaxCount: 1},
	{Subtype: SensorHumidity, Extra: 0x00, Width: 2, MaxCount: 1},
	{Subtype: SensorLux, Extra: 0x00, Width: 4, MaxCount: 1},
}

var ariaFields = []field{
	{Subtype: SensorVolt, Extra: VoltPower, Width: 2, MaxCount: 1},
	{Subtype: SensorVolt, Extra: VoltADC1, Width: 2, MaxCount: 1},
	{Subtype: SensorHall, Extra: 0x00, Width: 1, MaxCount: 1},
	{Subtype: SensorTemp, Extra: 0x00, Width: 2, MaxCount: 1},
	{Subtype: SensorHumidity, Extra: 0x00, Width: 2, MaxCount: 1},
}

// accelFields returns one field per sample index, matched on the low
// nibble of the extra byte.
func accelFields(n int) []field {
	fields := make([]field, n)
	for i := range fields {
		fields[i] = field{Subtype: SensorAccel, Extra: 0x0F00 | uint16(i), Width: 2, MaxCount: 3}
	}
	return fields
}

var motFields = append([]field{
	{Subtype: SensorVolt, Extra: VoltPower, Width: 2, MaxCount: 1},
}, accelFields(MaxMotSamples)...)

var cueFields = append([]field{
	{Subtype: SensorVolt, Extra: VoltPower, Width: 2, MaxCount: 1},
	{Subtype: SensorVolt, Extra: VoltADC1, Width: 2, MaxCount: 1},
	{Subtype: SensorHall, Extra: 0x00, Width: 1, MaxCount: 1},
}, accelFields(MaxCueSamples)...)

func (v fieldValue) first(def uint32) uint32 {
	if len(v.Values) == 0 {
		return def
	}
	return v.Values[0]
}

func (v fieldValue) at(i int) int16 {
	if i >= len(v.Values) {
		return 0
	}
	return int16(v.Values[i])
}

// Mag decodes the MAG data set. The bool is false for other boards.
func (p *PAL) Mag() (Mag, bool) {
	if p.Board != BoardMag {
		return Mag{}, false
	}

	vals, mask := p.lookup(magFields)
	m := Mag{
		Volt:     uint16(vals[0].first(0)),
		MagState: uint8(vals[1].first(NoMagState)),
		Stored:   mask,
	}
	m.Regular = m.MagState&0x80 != 0
	m.MagState &= 0x7F
	return m, true
}

// Amb decodes the AMB data set. The bool is false for other boards.
func (p *PAL) Amb() (Amb, bool) {
	if p.Board != BoardAmb {
		return Amb{}, false
	}

	vals, mask := p.lookup(ambFields)
	return Amb{
		Volt:     uint16(vals[0].first(NoVolt)),
		Temp:     int16(vals[1].first(NoTemp)),
		Humidity: uint16(vals[2].first(NoHumidity)),
		Lux:      vals[3].first(NoLux),
		Stored:   mask,
	}, true
}

// TempC returns the temperature in degrees C.
func (a Amb) TempC() float64 { return float64(a.Temp) / 100 }

// HumidityPct returns the relative humidity in percent.
func (a Amb) HumidityPct() float64 { return float64(a.Humidity) / 100 }

// Mot decodes the MOT data set. Samples counts the leading run of sample
// indexes present in the packet.
func (p *PAL) Mot() (Mot, bool) {
	if p.Board != BoardMot {
		return Mot{}, false
	}

	vals, mask := p.lookup(motFields)
	m := Mot{
		Volt:   uint16(vals[0].first(NoVolt)),
		Stored: mask,
	}
	for i := 0; i < MaxMotSamples; i++ {
		if mask&(1<<uint(i+1)) == 0 {
			break
		}
		v := vals[i+1]
		m.Samples = i + 1
		m.SampleRate = v.Extra >> 4
		m.X[i], m.Y[i], m.Z[i] = v.at(0), v.at(1), v.at(2)
	}
	return m, true
}

// Cue decodes the TWELITE CUE data set.
func (p *PAL) Cue() (Cue, bool) {
	if p.Board != BoardCue {
		return Cue{}, false
	}

	vals, mask := p.lookup(cueFields)
	c := Cue{
		Volt:     uint16(vals[0].first(NoVolt)),
		ADC1:     uint16(vals[1].first(NoADC)),
		MagState: uint8(vals[2].first(NoMagState)),
		Stored:   mask,
	}
	c.MagRegular = c.MagState&0x80 != 0
	c.MagState &= 0x7F

	const accelBase = 3
	for i := 0; i < MaxCueSamples; i++ {
		if mask&(1<<uint(i+accelBase)) == 0 {
			break
		}
		v := vals[i+accelBase]
		c.Samples = i + 1
		c.SampleRate = v.Extra >> 4
		c.X[i], c.Y[i], c.Z[i] = v.at(0), v.at(1), v.at(2)
	}
	return c, true
}

// Aria decodes the TWELITE ARIA data set.
func (p *PAL) Aria() (Aria, bool) {
	if p.Board != BoardAria {
		return Aria{}, false
	}

	vals, mask := p.lookup(ariaFields)
	a := Aria{
		Volt:     uint16(vals[0].first(NoVolt)),
		ADC1:     uint16(vals[1].first(NoADC)),
		MagState: uint8(vals[2].first(NoMagState)),
		Temp:     int16(vals[3].first(NoTemp)),
		Humidity: uint16(vals[4].first(NoHumidity)),
		Stored:   mask,
	}
	a.MagRegular = a.MagState&0x80 != 0
	a.MagState &= 0x7F
	return a, true
}

// TempC returns the temperature in degrees C.
func (a Aria) TempC() float64 { return float64(a.Temp) / 100 }

// HumidityPct returns the relative humidity in percent.
func (a Aria) HumidityPct() float64 { return float64(a.Humidity) / 100 }
