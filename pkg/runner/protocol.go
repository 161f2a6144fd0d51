package runner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// MessageType represents the type of message exchanged with `pkgmatrix exec`.
type MessageType string

const (
	// MessageTypeJob carries the job to build, host to executor
	MessageTypeJob MessageType = "JOB"
	// MessageTypeEvent carries a log line from the executor
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeResult carries the job result
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError reports a job that could not produce a result
	MessageTypeError MessageType = "ERROR"
)

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeJob, MessageTypeEvent, MessageTypeResult, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Message is the envelope of every line.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// JobMessage hands a job and the settings to build it with to the executor.
type JobMessage struct {
	Job      Job              `json:"job"`
	Settings *config.Settings `json:"settings"`

	// Env is added to the executor environment, e.g. remote credentials.
	Env map[string]string `json:"env,omitempty"`
}

// Validate checks the fields the executor needs.
func (m *JobMessage) Validate() error {
	if m.Job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := m.Job.Reference.Validate(); err != nil {
		return err
	}
	if m.Settings == nil {
		return fmt.Errorf("settings are required")
	}
	return nil
}

// EventMessage is a log record emitted while the job runs.
type EventMessage struct {
	JobID   string `json:"job_id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorMessage reports a failure as a classified error.
type ErrorMessage struct {
	JobID   string            `json:"job_id,omitempty"`
	Class   matrix.ErrorClass `json:"class"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
}

// NewErrorMessage converts err, keeping its class when it is a *matrix.Error.
func NewErrorMessage(jobID string, err error) *ErrorMessage {
	msg := &ErrorMessage{JobID: jobID, Class: matrix.ErrorClassPermanent, Message: err.Error()}
	var me *matrix.Error
	if errors.As(err, &me) {
		msg.Class = me.Class
		msg.Code = me.Code
		msg.Message = me.Message
	}
	return msg
}

// Err rebuilds the classified error.
func (m *ErrorMessage) Err() error {
	e := &matrix.Error{Class: m.Class, Code: m.Code, Message: m.Message, Job: m.JobID}
	if e.Class == "" {
		e.Class = matrix.ErrorClassPermanent
	}
	return e
}

// Encoder writes protocol messages to an io.Writer.
// It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes a message to the output stream.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var dataBytes []byte
	if data != nil {
		var err error
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	msgBytes, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// EncodeJob sends a JOB message.
func (e *Encoder) EncodeJob(job *JobMessage) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	return e.Encode(MessageTypeJob, job)
}

// EncodeResult sends a RESULT message.
func (e *Encoder) EncodeResult(result *Result) error {
	return e.Encode(MessageTypeResult, result)
}

// EncodeError sends an ERROR message.
func (e *Encoder) EncodeError(msg *ErrorMessage) error {
	return e.Encode(MessageTypeError, msg)
}

// Decoder reads protocol messages from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)
	return &Decoder{r: scanner}
}

// Decode reads the next message from the input stream.
func (d *Decoder) Decode() (*Message, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}
	return ParseMessage(d.r.Bytes())
}

// DecodeJob reads a JOB message.
func (d *Decoder) DecodeJob() (*JobMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeJob {
		return nil, fmt.Errorf("expected JOB message, got %s", msg.Type)
	}

	var job JobMessage
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	return &job, nil
}

// ParseMessage decodes one line.
func ParseMessage(line []byte) (*Message, error) {
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &msg, nil
}

// Collect reads an executor's output. EVENT lines are replayed on logger,
// lines that are not protocol messages are logged as raw output, and the
// last RESULT or ERROR decides the outcome.
func Collect(output string, jobID string, logger zerolog.Logger) (*Result, error) {
	var (
		result *Result
		jobErr error
	)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msg, err := ParseMessage([]byte(line))
		if err != nil {
			logger.Debug().Msg(line)
			continue
		}

		switch msg.Type {
		case MessageTypeEvent:
			var ev EventMessage
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			level, err := zerolog.ParseLevel(ev.Level)
			if err != nil || level == zerolog.NoLevel {
				level = zerolog.InfoLevel
			}
			logger.WithLevel(level).Str("source", "executor").Msg(ev.Message)
		case MessageTypeResult:
			var r Result
			if err := json.Unmarshal(msg.Data, &r); err != nil {
				return nil, fmt.Errorf("failed to unmarshal result: %w", err)
			}
			result, jobErr = &r, nil
		case MessageTypeError:
			var em ErrorMessage
			if err := json.Unmarshal(msg.Data, &em); err != nil {
				return nil, fmt.Errorf("failed to unmarshal error: %w", err)
			}
			jobErr = em.Err()
		}
	}

	if jobErr != nil {
		return result, jobErr
	}
	if result == nil {
		return nil, fmt.Errorf("executor produced no result for job %s", jobID)
	}
	return result, nil
}

// EventWriter turns zerolog JSON records into EVENT messages so the
// executor's logs travel over the protocol stream.
type EventWriter struct {
	enc   *Encoder
	jobID string
}

// NewEventWriter creates an EventWriter for jobID.
func NewEventWriter(enc *Encoder, jobID string) *EventWriter {
	return &EventWriter{enc: enc, jobID: jobID}
}

// Write implements io.Writer for one zerolog record.
func (w *EventWriter) Write(p []byte) (int, error) {
	var rec map[string]interface{}
	ev := EventMessage{JobID: w.jobID, Level: "info"}
	if err := json.Unmarshal(p, &rec); err != nil {
		ev.Message = strings.TrimSpace(string(p))
	} else {
		if lvl, ok := rec[zerolog.LevelFieldName].(string); ok {
			ev.Level = lvl
		}
		if msg, ok := rec[zerolog.MessageFieldName].(string); ok {
			ev.Message = msg
		}
		ev.Message = appendFields(ev.Message, rec)
	}
	if err := w.enc.Encode(MessageTypeEvent, &ev); err != nil {
		return 0, err
	}
	return len(p), nil
}

func appendFields(msg string, rec map[string]interface{}) string {
	var extra []string
	for _, k := range sortedFieldNames(rec) {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		extra = append(extra, fmt.Sprintf("%s=%v", k, rec[k]))
	}
	if len(extra) == 0 {
		return msg
	}
	return strings.TrimSpace(msg + " " + strings.Join(extra, " "))
}
