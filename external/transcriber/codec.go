package transcriber

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// The transcription service is described by a proto file without a package,
// so its services are addressed at the top level.
const (
	transcribeServiceName  = "AudioTranscriberService"
	transcribeStreamName   = "TranscribeAudio"
	transcribeMethod       = "/" + transcribeServiceName + "/" + transcribeStreamName
	healthCheckServiceName = "HealthCheckService"
	healthCheckMethodName  = "Check"
	healthCheckMethod      = "/" + healthCheckServiceName + "/" + healthCheckMethodName
)

type wireMessage interface {
	marshalWire() []byte
	unmarshalWire(b []byte) error
}

// audioRequest is `message AudioRequest { bytes audio_data = 1; }`.
type audioRequest struct {
	AudioData []byte
}

func (m *audioRequest) marshalWire() []byte {
	var b []byte
	if len(m.AudioData) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.AudioData)
	}
	return b
}

func (m *audioRequest) unmarshalWire(b []byte) error {
	*m = audioRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.AudioData = append([]byte(nil), v...)
			return n, nil
		}
		return skipField(num, typ, b)
	})
}

// transcriptionResponse is
// `message TranscriptionResponse { string transcription = 1; double start_time = 2; double end_time = 3; }`.
// Decoding also accepts 32-bit floats for the time fields.
type transcriptionResponse struct {
	Transcription string
	StartTime     float64
	EndTime       float64
}

func (m *transcriptionResponse) marshalWire() []byte {
	var b []byte
	if m.Transcription != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Transcription)
	}
	if m.StartTime != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(m.StartTime))
	}
	if m.EndTime != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(m.EndTime))
	}
	return b
}

func (m *transcriptionResponse) unmarshalWire(b []byte) error {
	*m = transcriptionResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Transcription = v
			return n, nil
		case num == 2 || num == 3:
			v, n, ok := consumeFloat(typ, b)
			if !ok {
				return skipField(num, typ, b)
			}
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if num == 2 {
				m.StartTime = v
			} else {
				m.EndTime = v
			}
			return n, nil
		}
		return skipField(num, typ, b)
	})
}

type healthCheckRequest struct{}

func (m *healthCheckRequest) marshalWire() []byte { return nil }

func (m *healthCheckRequest) unmarshalWire(b []byte) error {
	return consumeFields(b, skipField)
}

// healthCheckResponse is `message HealthCheckResponse { int32 status_code = 1; }`.
type healthCheckResponse struct {
	StatusCode int32
}

func (m *healthCheckResponse) marshalWire() []byte {
	var b []byte
	if m.StatusCode != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.StatusCode)))
	}
	return b
}

func (m *healthCheckResponse) unmarshalWire(b []byte) error {
	*m = healthCheckResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.StatusCode = int32(v)
			return n, nil
		}
		return skipField(num, typ, b)
	})
}

func consumeFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func consumeFloat(typ protowire.Type, b []byte) (float64, int, bool) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		return math.Float64frombits(v), n, true
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		return float64(math.Float32frombits(v)), n, true
	default:
		return 0, 0, false
	}
}

// wireCodec encodes the hand-described messages above in protobuf wire
// format. It is forced per call so the process-wide "proto" codec stays intact.
type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("wire codec: cannot marshal %T", v)
	}
	return m.marshalWire(), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("wire codec: cannot unmarshal into %T", v)
	}
	return m.unmarshalWire(data)
}

func (wireCodec) Name() string {
	return "proto"
}
