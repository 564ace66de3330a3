// Package codec is the reference encoding of the engine-side checkpoint
// state. The store treats checkpoint state as opaque bytes; this codec is
// what the bundled tooling and the recovery verifier use to look inside.
//
// Wire format: a 4-byte header (magic "fsc" + format version) followed by
// a MessagePack document.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// FormatVersion is the current wire format version.
const FormatVersion byte = 1

var magic = []byte("fsc")

// ErrBadHeader is returned when data does not start with a known header.
var ErrBadHeader = errors.New("codec: missing or unsupported checkpoint state header")

// State is the decoded checkpoint state.
type State struct {
	InvocationID     string  `msgpack:"invocation_id"`
	FlowClass        string  `msgpack:"flow_class"`
	PlatformVersion  int     `msgpack:"platform_version"`
	NumberOfSuspends int     `msgpack:"suspends"`
	SubFlows         []Frame `msgpack:"sub_flows"`

	// Sessions maps open session ids to counterparty names.
	Sessions map[string]string `msgpack:"sessions,omitempty"`
}

// Frame is one entry of the sub-flow stack, outermost first.
type Frame struct {
	FlowClass       string `msgpack:"flow_class"`
	Kind            string `msgpack:"kind"` // "core" or "app"
	PlatformVersion int    `msgpack:"platform_version"`
	AppName         string `msgpack:"app_name,omitempty"`
	AppHash         string `msgpack:"app_hash,omitempty"`
}

// Codec encodes and decodes checkpoint state. The zero value is ready to
// use and safe for concurrent use.
type Codec struct{}

// Encode serializes s.
func (Codec) Encode(s State) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(FormatVersion)

	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(&s); err != nil {
		return nil, fmt.Errorf("encode checkpoint state: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes data produced by Encode.
func (Codec) Decode(data []byte) (State, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return State{}, ErrBadHeader
	}
	if v := data[len(magic)]; v != FormatVersion {
		return State{}, fmt.Errorf("%w: version %d", ErrBadHeader, v)
	}

	var s State
	if err := msgpack.Unmarshal(data[len(magic)+1:], &s); err != nil {
		return State{}, fmt.Errorf("decode checkpoint state: %w", err)
	}
	return s, nil
}

// SubFlows decodes data and returns its sub-flow stack with version
// markers. Frames of unknown kind are rejected.
func (c Codec) SubFlows(data []byte) ([]checkpoint.SubFlow, error) {
	s, err := c.Decode(data)
	if err != nil {
		return nil, err
	}

	out := make([]checkpoint.SubFlow, 0, len(s.SubFlows))
	for i, f := range s.SubFlows {
		var v checkpoint.SubFlowVersion
		switch f.Kind {
		case checkpoint.SubFlowCore.String():
			v = checkpoint.CoreVersion(f.PlatformVersion)
		case checkpoint.SubFlowApp.String():
			v = checkpoint.AppVersion(f.PlatformVersion, f.AppName, f.AppHash)
		default:
			return nil, fmt.Errorf("sub-flow %d (%s): unknown kind %q", i, f.FlowClass, f.Kind)
		}
		out = append(out, checkpoint.SubFlow{FlowClass: f.FlowClass, Version: v})
	}
	return out, nil
}

// CoreFrame builds a platform sub-flow frame.
func CoreFrame(flowClass string, platformVersion int) Frame {
	return Frame{FlowClass: flowClass, Kind: checkpoint.SubFlowCore.String(), PlatformVersion: platformVersion}
}

// AppFrame builds an application sub-flow frame.
func AppFrame(flowClass string, platformVersion int, appName, appHash string) Frame {
	return Frame{
		FlowClass:       flowClass,
		Kind:            checkpoint.SubFlowApp.String(),
		PlatformVersion: platformVersion,
		AppName:         appName,
		AppHash:         appHash,
	}
}
