// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/twestage/pkg/sercmd"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidPackets    uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	UnknownPackets  uint64
	MalformedPkts   uint64
	AnomalousValues uint64
	PALParseErrors  uint64
	LowVoltage      uint64
	ZeroLQI         uint64
	InvalidTemp     uint64
	InvalidHumidity uint64

	ByKind map[Kind]uint64

	// Rates (calculated)
	PacketRate float64 // frames/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByKind:         make(map[Kind]uint64),
	}
}

// Update records one frame outcome. err is either a framing error from
// sercmd.FrameReader or a parse error from Parse.
func (s *Statistics) Update(packet Packet, err error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if err != nil {
		switch {
		case errors.Is(err, sercmd.ErrChecksum):
			s.ChecksumErrors++
		case errors.Is(err, ErrUnknownPacket):
			s.UnknownPackets++
		case errors.Is(err, ErrMalformed), errors.Is(err, ErrTooShort):
			s.MalformedPkts++
		default:
			s.FramingErrors++
		}
		return
	}

	if packet != nil {
		s.ByKind[packet.Kind()]++
	}

	if len(validationErrors) == 0 {
		s.ValidPackets++
		return
	}

	for _, v := range validationErrors {
		switch v.Type {
		case AnomalyPALParseError:
			s.PALParseErrors++
			s.MalformedPkts++
		case AnomalyLowVoltage:
			s.LowVoltage++
			s.AnomalousValues++
		case AnomalyZeroLQI:
			s.ZeroLQI++
			s.AnomalousValues++
		case AnomalyInvalidTemp:
			s.InvalidTemp++
			s.AnomalousValues++
		case AnomalyInvalidHumidity:
			s.InvalidHumidity++
			s.AnomalousValues++
		}
	}
}

// ErrorCount returns every frame that was not a clean packet
func (s *Statistics) ErrorCount() uint64 {
	return s.ChecksumErrors + s.FramingErrors + s.UnknownPackets + s.MalformedPkts + s.AnomalousValues
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100.0 / float64(total)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets, s.TotalFrames))

	for _, k := range []Kind{KindPAL, KindTwelite, KindAppIO, KindAppUART, KindActStd, KindAppTag} {
		if n := s.ByKind[k]; n > 0 {
			result += fmt.Sprintf("  %-12s %8d\n", k.String()+":", n)
		}
	}

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors, s.TotalFrames))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors, s.TotalFrames))
	}
	if s.UnknownPackets > 0 {
		result += fmt.Sprintf("Unknown Pkts:    %8d (%.1f%%)\n", s.UnknownPackets, percent(s.UnknownPackets, s.TotalFrames))
	}
	if s.MalformedPkts > 0 {
		result += fmt.Sprintf("Malformed Pkts:  %8d (%.1f%%)\n", s.MalformedPkts, percent(s.MalformedPkts, s.TotalFrames))
		if s.PALParseErrors > 0 {
			result += fmt.Sprintf("  PAL Parse Err:    %5d\n", s.PALParseErrors)
		}
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues, s.TotalFrames))
		if s.LowVoltage > 0 {
			result += fmt.Sprintf("  Low Voltage:      %5d\n", s.LowVoltage)
		}
		if s.ZeroLQI > 0 {
			result += fmt.Sprintf("  Zero LQI:         %5d\n", s.ZeroLQI)
		}
		if s.InvalidTemp > 0 {
			result += fmt.Sprintf("  Invalid Temp:     %5d\n", s.InvalidTemp)
		}
		if s.InvalidHumidity > 0 {
			result += fmt.Sprintf("  Invalid Humidity: %5d\n", s.InvalidHumidity)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
