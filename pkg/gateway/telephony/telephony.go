// Package telephony implements the media-stream control protocol the
// telephony provider speaks over the call WebSocket.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventClear     = "clear"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// MediaFormat describes the audio shape of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Connected is the first event after the socket opens.
type Connected struct {
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

// Start announces the call and carries the stream identity plus the
// custom parameters set on the stream-connect instruction.
type Start struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// AuthToken returns the stream token passed as a custom parameter.
func (s *Start) AuthToken() string {
	return strings.TrimSpace(s.CustomParameters["auth_token"])
}

// Media carries one inbound audio chunk.
type Media struct {
	StreamSID string
	Track     string
	Payload   string
}

// Audio decodes the base64 payload.
func (m *Media) Audio() ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, badFrame("media payload is not valid base64", "media.payload")
	}
	return audio, nil
}

// Mark is the provider's acknowledgment that playback reached a marker.
type Mark struct {
	StreamSID string
	Name      string
}

// Stop announces call teardown.
type Stop struct {
	StreamSID string
	CallSID   string
}

type inboundEnvelope struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Protocol  string `json:"protocol"`
	Version   string `json:"version"`
	Start     *Start `json:"start"`
	Media     *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark"`
	Stop *struct {
		CallSID string `json:"callSid"`
	} `json:"stop"`
}

// Decode parses one inbound control message into its typed event.
func Decode(data []byte) (any, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	event := strings.TrimSpace(env.Event)
	if event == "" {
		return nil, badFrame("missing event", "event")
	}

	switch event {
	case EventConnected:
		return Connected{Protocol: env.Protocol, Version: env.Version}, nil
	case EventStart:
		if env.Start == nil {
			return nil, badFrame("start event missing start object", "start")
		}
		msg := *env.Start
		if msg.StreamSID == "" {
			msg.StreamSID = env.StreamSID
		}
		if strings.TrimSpace(msg.StreamSID) == "" {
			return nil, badFrame("start.streamSid is required", "start.streamSid")
		}
		if strings.TrimSpace(msg.CallSID) == "" {
			return nil, badFrame("start.callSid is required", "start.callSid")
		}
		return msg, nil
	case EventMedia:
		if env.Media == nil {
			return nil, badFrame("media event missing media object", "media")
		}
		if strings.TrimSpace(env.Media.Payload) == "" {
			return nil, badFrame("media.payload is required", "media.payload")
		}
		return Media{StreamSID: env.StreamSID, Track: env.Media.Track, Payload: env.Media.Payload}, nil
	case EventMark:
		if env.Mark == nil || strings.TrimSpace(env.Mark.Name) == "" {
			return nil, badFrame("mark.name is required", "mark.name")
		}
		return Mark{StreamSID: env.StreamSID, Name: env.Mark.Name}, nil
	case EventStop:
		msg := Stop{StreamSID: env.StreamSID}
		if env.Stop != nil {
			msg.CallSID = env.Stop.CallSID
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported event", "event")
	}
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundMark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// EncodeMedia builds an outbound media event carrying one audio frame.
func EncodeMedia(streamSID string, frame []byte) ([]byte, error) {
	msg := outboundMedia{Event: EventMedia, StreamSID: streamSID}
	msg.Media.Payload = base64.StdEncoding.EncodeToString(frame)
	return json.Marshal(msg)
}

// EncodeMark builds an outbound playback marker event.
func EncodeMark(streamSID, name string) ([]byte, error) {
	msg := outboundMark{Event: EventMark, StreamSID: streamSID}
	msg.Mark.Name = name
	return json.Marshal(msg)
}

// EncodeClear builds the event that flushes queued outbound audio.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: EventClear, StreamSID: streamSID})
}
