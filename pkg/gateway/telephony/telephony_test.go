package telephony

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeConnected(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c, ok := msg.(Connected)
	if !ok {
		t.Fatalf("got %T", msg)
	}
	if c.Protocol != "Call" {
		t.Errorf("protocol = %q", c.Protocol)
	}
}

func TestDecodeStart(t *testing.T) {
	raw := `{"event":"start","streamSid":"MZ123","start":{"accountSid":"AC1","callSid":"CA1","tracks":["inbound"],"customParameters":{"auth_token":"tok.abc"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, ok := msg.(Start)
	if !ok {
		t.Fatalf("got %T", msg)
	}
	if s.CallSID != "CA1" || s.StreamSID != "MZ123" {
		t.Errorf("identity = %q/%q", s.CallSID, s.StreamSID)
	}
	if s.AuthToken() != "tok.abc" {
		t.Errorf("auth token = %q", s.AuthToken())
	}
	if s.MediaFormat.SampleRate != 8000 {
		t.Errorf("sample rate = %d", s.MediaFormat.SampleRate)
	}
}

func TestDecodeStartMissingCallSID(t *testing.T) {
	_, err := Decode([]byte(`{"event":"start","streamSid":"MZ1","start":{"accountSid":"AC1"}}`))
	de, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("got %T (%v)", err, err)
	}
	if de.Param != "start.callSid" {
		t.Errorf("param = %q", de.Param)
	}
}

func TestDecodeMediaRoundTrip(t *testing.T) {
	audio := []byte{0x7f, 0x00, 0xff, 0x10}
	payload := base64.StdEncoding.EncodeToString(audio)
	raw := `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"` + payload + `"}}`

	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := msg.(Media)
	if !ok {
		t.Fatalf("got %T", msg)
	}
	got, err := m.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("audio = %v, want %v", got, audio)
	}
}

func TestDecodeMediaBadBase64(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"media","streamSid":"MZ1","media":{"payload":"!!!not-base64"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := msg.(Media)
	if _, err := m.Audio(); err == nil {
		t.Error("bad base64 should error")
	}
}

func TestDecodeMarkAndStop(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"reply-done"}}`))
	if err != nil {
		t.Fatalf("Decode mark: %v", err)
	}
	if m := msg.(Mark); m.Name != "reply-done" {
		t.Errorf("mark name = %q", m.Name)
	}

	msg, err = Decode([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("Decode stop: %v", err)
	}
	if s := msg.(Stop); s.CallSID != "CA1" || s.StreamSID != "MZ1" {
		t.Errorf("stop = %+v", s)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing event", `{"streamSid":"MZ1"}`},
		{"unknown event", `{"event":"dtmf"}`},
		{"media without payload", `{"event":"media","media":{}}`},
		{"mark without name", `{"event":"mark","mark":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.raw)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestEncodeMedia(t *testing.T) {
	frame := []byte{1, 2, 3}
	data, err := EncodeMedia("MZ1", frame)
	if err != nil {
		t.Fatalf("EncodeMedia: %v", err)
	}
	var decoded struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Event != "media" || decoded.StreamSID != "MZ1" {
		t.Errorf("envelope = %+v", decoded)
	}
	got, err := base64.StdEncoding.DecodeString(decoded.Media.Payload)
	if err != nil || !bytes.Equal(got, frame) {
		t.Errorf("payload = %q (%v)", decoded.Media.Payload, err)
	}
}

func TestEncodeMarkAndClear(t *testing.T) {
	data, err := EncodeMark("MZ1", "reply-1")
	if err != nil {
		t.Fatalf("EncodeMark: %v", err)
	}
	var mark struct {
		Event string `json:"event"`
		Mark  struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	if err := json.Unmarshal(data, &mark); err != nil {
		t.Fatalf("unmarshal mark: %v", err)
	}
	if mark.Event != "mark" || mark.Mark.Name != "reply-1" {
		t.Errorf("mark = %+v", mark)
	}

	data, err = EncodeClear("MZ1")
	if err != nil {
		t.Fatalf("EncodeClear: %v", err)
	}
	var clear struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}
	if err := json.Unmarshal(data, &clear); err != nil {
		t.Fatalf("unmarshal clear: %v", err)
	}
	if clear.Event != "clear" || clear.StreamSID != "MZ1" {
		t.Errorf("clear = %+v", clear)
	}
}
