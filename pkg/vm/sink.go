package vm

import (
	"bytes"
	"io"
	"strconv"
)

// Sink consumes VM output. Calls arrive in execution order and must complete
// before the VM fetches the next instruction.
type Sink interface {
	// EmitNumber renders v in decimal followed by a newline.
	EmitNumber(v int32) error

	// EmitByte writes b unchanged.
	EmitByte(b byte) error
}

// WriterSink renders output onto an io.Writer without buffering.
type WriterSink struct {
	w   io.Writer
	buf [16]byte
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// EmitNumber implements Sink.
func (s *WriterSink) EmitNumber(v int32) error {
	b := strconv.AppendInt(s.buf[:0], int64(v), 10)
	b = append(b, '\n')
	_, err := s.w.Write(b)
	return err
}

// EmitByte implements Sink.
func (s *WriterSink) EmitByte(b byte) error {
	s.buf[0] = b
	_, err := s.w.Write(s.buf[:1])
	return err
}

// EmissionKind distinguishes the two output messages.
type EmissionKind uint8

const (
	NumberEmission EmissionKind = iota + 1
	ByteEmission
)

// Emission is one recorded output message.
type Emission struct {
	Kind  EmissionKind
	Value int32
}

// Recorder is a Sink that keeps every emission and the rendered bytes.
type Recorder struct {
	Emissions []Emission
	out       bytes.Buffer
	ws        WriterSink
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// EmitNumber implements Sink.
func (r *Recorder) EmitNumber(v int32) error {
	r.Emissions = append(r.Emissions, Emission{Kind: NumberEmission, Value: v})
	return r.writer().EmitNumber(v)
}

// EmitByte implements Sink.
func (r *Recorder) EmitByte(b byte) error {
	r.Emissions = append(r.Emissions, Emission{Kind: ByteEmission, Value: int32(b)})
	return r.writer().EmitByte(b)
}

func (r *Recorder) writer() *WriterSink {
	if r.ws.w == nil {
		r.ws.w = &r.out
	}
	return &r.ws
}

// Bytes returns the rendered output.
func (r *Recorder) Bytes() []byte {
	return r.out.Bytes()
}

// String returns the rendered output as a string.
func (r *Recorder) String() string {
	return r.out.String()
}

// Discard is a Sink that drops all output.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) EmitNumber(int32) error { return nil }
func (discardSink) EmitByte(byte) error    { return nil }
