package mercadopago

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// flexibleID accepts ids sent either as JSON strings or JSON numbers.
// Payment ids are numeric in the API but arrive quoted in notifications.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

// notification is the webhook body.
type notification struct {
	ID       flexibleID `json:"id"`
	Type     string     `json:"type"`
	Topic    string     `json:"topic"`
	Action   string     `json:"action"`
	LiveMode bool       `json:"live_mode"`
	UserID   flexibleID `json:"user_id"`
	Data     struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

func (n *notification) eventType() string {
	if n.Type != "" {
		return n.Type
	}
	// Older feeds only set topic.
	return n.Topic
}

func parseNotification(body []byte) (*notification, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
