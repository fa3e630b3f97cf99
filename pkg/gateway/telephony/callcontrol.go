package telephony

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/voxline-ai/voxline/pkg/core/tools"
)

const defaultRESTBaseURL = "https://api.twilio.com"

// CallControl redirects live calls through the provider's REST API.
// Transferring replaces the call's instructions with a dial to the
// destination, which ends the media stream.
type CallControl struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewCallControl(accountSID, authToken string, httpClient *http.Client) *CallControl {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &CallControl{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultRESTBaseURL,
		httpClient: httpClient,
	}
}

func (c *CallControl) WithBaseURL(base string) *CallControl {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

type dialTwiml struct {
	XMLName xml.Name `xml:"Response"`
	Say     string   `xml:"Say,omitempty"`
	Dial    string   `xml:"Dial"`
}

// Transfer updates the live call to dial the target destination.
func (c *CallControl) Transfer(ctx context.Context, callID string, target tools.TransferTarget) error {
	body, err := xml.Marshal(dialTwiml{Say: target.Announcement, Dial: target.Destination})
	if err != nil {
		return fmt.Errorf("build transfer instructions: %w", err)
	}

	form := url.Values{"Twiml": {xml.Header + string(body)}}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update call %s: %w", callID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("update call %s: status %d: %s", callID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
