// Package handlers holds the gateway's HTTP and WebSocket endpoints.
package handlers

import (
	"encoding/xml"
	"log/slog"
	"net/http"

	"github.com/voxline-ai/voxline/pkg/gateway/config"
	"github.com/voxline-ai/voxline/pkg/gateway/streamtoken"
)

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

// TwimlHandler answers the provider's incoming-call webhook with the
// instruction to open a media stream back to this gateway. The
// response carries a fresh single-use token as a stream parameter.
type TwimlHandler struct {
	Config config.Config
	Tokens *streamtoken.Authenticator
	Logger *slog.Logger
}

func (h TwimlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	callSID := r.PostFormValue("CallSid")
	if h.Logger != nil {
		h.Logger.Info("incoming call", "call_sid", callSID, "from", r.PostFormValue("From"))
	}

	resp := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL: h.Config.MediaStreamURL(),
				Parameters: []twimlParameter{
					{Name: "auth_token", Value: h.Tokens.Issue()},
				},
			},
		},
	}

	body, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}
