package lprwire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType identifies the kind of payload carried by an Envelope.
type MessageType string

// Known message types. The set is closed: anything else is rejected by
// ParseEnvelope and surfaces as ErrUnknownType.
const (
	TypeAuthentication   MessageType = "authentication"
	TypeAcknowledge      MessageType = "acknowledge"
	TypeCommand          MessageType = "command"
	TypeCommandResponse  MessageType = "command_response"
	TypeLPRSettings      MessageType = "lpr_settings"
	TypeLive             MessageType = "live"
	TypePlatesData       MessageType = "plates_data"
	TypeResources        MessageType = "resources"
	TypeHeartbeat        MessageType = "heartbeat"
	TypeCameraConnection MessageType = "camera_connection"
	TypeRecording        MessageType = "recording"
	TypeStreaming        MessageType = "streaming"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeAuthentication, TypeAcknowledge, TypeCommand, TypeCommandResponse,
		TypeLPRSettings, TypeLive, TypePlatesData, TypeResources,
		TypeHeartbeat, TypeCameraConnection, TypeRecording, TypeStreaming:
		return true
	}
	return false
}

// Envelope is the generic wire wrapper exchanged with LPR devices and
// carried over the bus: {messageId, messageType, messageBody}.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	MessageType MessageType     `json:"messageType"`
	MessageBody json.RawMessage `json:"messageBody"`
}

// NewEnvelope builds an envelope with a fresh messageId around the given body.
func NewEnvelope(t MessageType, body interface{}) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal message body: %w", err)
	}
	return Envelope{
		MessageID:   uuid.New().String(),
		MessageType: t,
		MessageBody: raw,
	}, nil
}

// ParseEnvelope decodes a single framed message into an Envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if !env.MessageType.Valid() {
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.MessageType)
	}
	return env, nil
}

// DecodeBody unmarshals the envelope body into v.
func (e Envelope) DecodeBody(v interface{}) error {
	if err := json.Unmarshal(e.MessageBody, v); err != nil {
		return fmt.Errorf("unmarshal %s body: %w", e.MessageType, err)
	}
	return nil
}

// Marshal serializes the envelope for framing.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// AuthRequest is the body of an authentication envelope.
type AuthRequest struct {
	Token string `json:"token"`
}

// Acknowledge correlates a response to an earlier request by messageId.
type Acknowledge struct {
	ReplyTo string `json:"replyTo"`
}

// SignedBody wraps a command or settings payload with its HMAC tag.
// The signature covers Data only, never the envelope metadata.
type SignedBody struct {
	Data json.RawMessage `json:"data"`
	HMAC string          `json:"hmac"`
}

// PlateInfo carries one recognized plate and its cropped image.
type PlateInfo struct {
	Plate      string `json:"plate"`
	PlateImage string `json:"plate_image,omitempty"`
}

// Car is a single vehicle entry within a plates_data body.
type Car struct {
	Plate        PlateInfo              `json:"plate"`
	OCRAccuracy  float64                `json:"ocr_accuracy"`
	VisionSpeed  float64                `json:"vision_speed"`
	VehicleClass map[string]interface{} `json:"vehicle_class,omitempty"`
	VehicleType  map[string]interface{} `json:"vehicle_type,omitempty"`
	VehicleColor map[string]interface{} `json:"vehicle_color,omitempty"`
}

// PlatesData is the body of a plates_data envelope.
type PlatesData struct {
	CameraID  int64  `json:"camera_id"`
	Timestamp string `json:"timestamp"`
	FullImage string `json:"full_image,omitempty"`
	Cars      []Car  `json:"cars"`
}

// LiveFrame is the body of a live envelope.
type LiveFrame struct {
	CameraID  int64  `json:"camera_id"`
	LiveImage string `json:"live_image"`
}

// HeartbeatBody is the body of a heartbeat envelope. Info is "on" while the
// device reports itself alive; the tracker synthesizes "off" on expiry.
type HeartbeatBody struct {
	Info string `json:"info"`
}

// CameraConnection reports per-camera link state from the device.
type CameraConnection struct {
	Connection bool  `json:"Connection"`
	CameraID   int64 `json:"camera_id,omitempty"`
}

// RecordingFrame is the body of a recording envelope. A frame with
// EndRecording set finalizes the active recording for the camera.
type RecordingFrame struct {
	CameraID     int64  `json:"camera_id"`
	Frame        []byte `json:"frame,omitempty"`
	EndRecording bool   `json:"end_recording,omitempty"`
}

// StreamingCommand asks a device to stream live or recording frames for
// one camera.
type StreamingCommand struct {
	CommandType string `json:"commandType"`
	CameraID    int64  `json:"cameraId"`
	Duration    int    `json:"duration,omitempty"`
}
