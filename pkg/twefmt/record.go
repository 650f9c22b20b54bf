// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package twefmt

import (
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Record map keys
const (
	keyTick = iota
	keySrcAddr
	keySrcLID
	keyLQI
	keyVolt
	keyBoard
	keySensors
	keyParseError
	keyTLV
	keyPayload
	keyDI
	keyADC
	keyCommand
	keyDstAddr
	keySeq
	keyRaw
)

// RecordMap flattens a packet into the integer keyed map used by
// MarshalCBOR.
func RecordMap(p Packet) map[int]interface{} {
	info := p.Info()
	m := map[int]interface{}{
		keyTick:    info.Tick.UnixMilli(),
		keySrcAddr: info.SrcAddr,
		keySrcLID:  info.SrcLID,
		keyLQI:     info.LQI,
		keyVolt:    info.Volt,
	}

	switch v := p.(type) {
	case *PAL:
		m[keyBoard] = uint8(v.Board)
		m[keySensors] = v.Sensors
		m[keySeq] = v.Seq
		m[keyParseError] = v.ParseError
		m[keyTLV] = v.TLV()
	case *Twelite:
		m[keyDI] = v.DIMask
		m[keyADC] = v.ADC[:]
	case *AppIO:
		m[keyDI] = v.DIMask
	case *AppUART:
		m[keyCommand] = v.Command
		m[keyDstAddr] = v.DstAddr
		m[keyPayload] = v.Payload
	case *AppTag:
		m[keySeq] = v.Seq
		m[keyPayload] = v.Payload
	}
	return m
}

// MarshalCBOR encodes a packet as a CBOR record [kind, map].
func MarshalCBOR(p Packet) ([]byte, error) {
	data, err := cbor.Marshal([]interface{}{uint64(p.Kind()), RecordMap(p)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes a record written by MarshalCBOR.
func UnmarshalRecord(data []byte) (Kind, map[int]interface{}, error) {
	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return KindUnknown, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return KindUnknown, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	kind, ok := msg[0].(uint64)
	if !ok {
		return KindUnknown, nil, fmt.Errorf("expected uint for kind, got %T", msg[0])
	}

	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return KindUnknown, nil, fmt.Errorf("expected map for record, got %T", msg[1])
	}
	m := make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			m[int(k)] = val
		case int64:
			m[int(k)] = val
		default:
			return KindUnknown, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return Kind(kind), m, nil
}

// RecordWriter appends CBOR records to a stream. It is safe for
// concurrent use.
type RecordWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	n   int
}

// NewRecordWriter creates a RecordWriter on w.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{enc: cbor.NewEncoder(w)}
}

// Write appends one record. raw, when not nil, is stored alongside the
// decoded fields.
func (w *RecordWriter) Write(p Packet, raw []byte) error {
	m := RecordMap(p)
	if raw != nil {
		m[keyRaw] = raw
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode([]interface{}{uint64(p.Kind()), m}); err != nil {
		return fmt.Errorf("failed to write CBOR record: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *RecordWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}
