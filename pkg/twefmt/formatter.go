// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p Packet) string {
	info := p.Info()
	timestamp := info.Tick.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s src=%08X lid=0x%02X lqi=%d", timestamp, FormatKind(p.Kind()), info.SrcAddr, info.SrcLID, info.LQI)
	if info.Volt != 0 && info.Volt != NoVolt {
		result += fmt.Sprintf(" volt=%dmV", info.Volt)
	}
	result += "\n"

	switch v := p.(type) {
	case *PAL:
		result += formatPAL(v)
	case *Twelite:
		result += formatTwelite(v)
	case *AppIO:
		result += formatAppIO(v)
	case *AppUART:
		result += fmt.Sprintf("  resp=0x%02X dst=%08X len=%d\n", v.ResponseID, v.DstAddr, len(v.Payload))
		if len(v.Payload) > 0 {
			result += fmt.Sprintf("  data: % X\n", v.Payload)
		}
	case *AppTag:
		result += fmt.Sprintf("  seq=%d sensor=0x%02X rpt=%08X\n", v.Seq, v.Sensor, v.RouterAddr)
		if len(v.Payload) > 0 {
			result += fmt.Sprintf("  data: % X\n", v.Payload)
		}
	}

	return result
}

// FormatKind returns the display name of a packet kind
func FormatKind(k Kind) string {
	return k.String()
}

func formatPAL(p *PAL) string {
	result := fmt.Sprintf("  board=%s rev=%d seq=%d sensors=%d", p.Board, p.Revision, p.Seq, p.Sensors)
	if p.ParseError {
		result += " (parse error)"
	}
	result += "\n"

	if p.HasDataInfo {
		result += fmt.Sprintf("  info: type=%d source=0x%02X cause=%s\n", p.DataInfo.DataType, p.DataInfo.Source, formatCause(p.DataInfo.Cause))
	}
	if p.HasEvent {
		result += fmt.Sprintf("  event: id=%d param=0x%06X source=0x%02X\n", p.Event.ID, p.Event.Param, p.Event.Source)
	}

	if m, ok := p.Mag(); ok {
		result += fmt.Sprintf("  magnet=%s regular=%t\n", formatMagState(m.MagState), m.Regular)
	}
	if a, ok := p.Amb(); ok {
		result += "  "
		if a.Temp != NoTemp {
			result += fmt.Sprintf("temp=%.2f°C ", a.TempC())
		}
		if a.Humidity != NoHumidity {
			result += fmt.Sprintf("humidity=%.2f%% ", a.HumidityPct())
		}
		if a.Lux != NoLux {
			result += fmt.Sprintf("lux=%d", a.Lux)
		}
		result = strings.TrimRight(result, " ") + "\n"
	}
	if m, ok := p.Mot(); ok {
		result += formatAccel(m.Samples, m.SampleRate, m.X[:], m.Y[:], m.Z[:])
	}
	if c, ok := p.Cue(); ok {
		if c.ADC1 != NoADC {
			result += fmt.Sprintf("  adc1=%dmV\n", c.ADC1)
		}
		if c.MagState != NoMagState&0x7F {
			result += fmt.Sprintf("  magnet=%s regular=%t\n", formatMagState(c.MagState), c.MagRegular)
		}
		result += formatAccel(c.Samples, c.SampleRate, c.X[:], c.Y[:], c.Z[:])
	}
	if a, ok := p.Aria(); ok {
		if a.ADC1 != NoADC {
			result += fmt.Sprintf("  adc1=%dmV\n", a.ADC1)
		}
		if a.MagState != NoMagState&0x7F {
			result += fmt.Sprintf("  magnet=%s regular=%t\n", formatMagState(a.MagState), a.MagRegular)
		}
		var env []string
		if a.Temp != NoTemp {
			env = append(env, fmt.Sprintf("temp=%.2f°C", a.TempC()))
		}
		if a.Humidity != NoHumidity {
			env = append(env, fmt.Sprintf("humidity=%.2f%%", a.HumidityPct()))
		}
		if len(env) > 0 {
			result += "  " + strings.Join(env, " ") + "\n"
		}
	}

	if p.Board == BoardNone || p.Board == BoardNotice {
		for _, e := range p.Entries() {
			result += fmt.Sprintf("  [%02X/%02X/%02X] % X\n", e.Type, e.Subtype, e.Extra, e.Data)
		}
	}

	return result
}

func formatAccel(samples int, rate uint8, x, y, z []int16) string {
	if samples == 0 {
		return ""
	}
	result := fmt.Sprintf("  accel: %d samples, rate code %d\n", samples, rate)
	for i := 0; i < samples; i++ {
		result += fmt.Sprintf("    #%-2d x=%6d y=%6d z=%6d mG\n", i, x[i], y[i], z[i])
	}
	return result
}

func formatTwelite(t *Twelite) string {
	var di, adc []string
	for i := 0; i < 4; i++ {
		state := "off"
		if t.DI[i] {
			state = "ON"
		}
		di = append(di, fmt.Sprintf("DI%d=%s", i+1, state))

		if t.ADC[i] == NoADC {
			adc = append(adc, fmt.Sprintf("AI%d=--", i+1))
		} else {
			adc = append(adc, fmt.Sprintf("AI%d=%dmV", i+1, t.ADC[i]))
		}
	}

	result := fmt.Sprintf("  id=0x%02X ts=%d rpt=%d", t.PacketID, t.Timestamp, t.RepeatCount)
	if t.LowLatency {
		result += " low-latency"
	}
	result += "\n"
	result += "  " + strings.Join(di, " ") + "\n"
	result += "  " + strings.Join(adc, " ") + "\n"
	return result
}

func formatAppIO(a *AppIO) string {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		if a.DI(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return fmt.Sprintf("  id=0x%02X ts=%d rpt=%d DI=%s active=0x%03X int=0x%03X\n",
		a.PacketID, a.Timestamp, a.RepeatCount, b.String(), a.DIActiveMask, a.DIIntMask)
}

func formatMagState(s uint8) string {
	switch s {
	case 0:
		return "none"
	case 1:
		return "N"
	case 2:
		return "S"
	default:
		return fmt.Sprintf("0x%02X", s)
	}
}

func formatCause(c uint8) string {
	switch c {
	case 0x00:
		return "EVENT"
	case 0x01:
		return "VALUE_CHANGED"
	case 0x02:
		return "VALUE_OVER_LIMIT"
	case 0x03:
		return "VALUE_UNDER_LIMIT"
	case 0x04:
		return "VALUE_WITHIN_RANGE"
	default:
		return fmt.Sprintf("0x%02X", c)
	}
}
