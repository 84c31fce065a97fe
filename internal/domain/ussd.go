package domain

import "strings"

// USSDRequest is one exchange as decoded by the transport adapter. Text carries the whole
// accumulated `*`-delimited input of the session; an empty Text starts a session.
type USSDRequest struct {
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
	Text        string `json:"text"`
	ServiceCode string `json:"serviceCode"`
}

// Segments splits Text into its input tokens.
func (r USSDRequest) Segments() []string {
	if r.Text == "" {
		return nil
	}
	return strings.Split(r.Text, "*")
}

// Reply is the body returned to the gateway. Terminal replies end the session.
type Reply struct {
	Body     string
	Terminal bool
}

func Continue(body string) Reply { return Reply{Body: body} }

func End(body string) Reply { return Reply{Body: body, Terminal: true} }

// String renders the reply with its CON/END marker.
func (r Reply) String() string {
	if r.Terminal {
		return "END " + r.Body
	}
	return "CON " + r.Body
}

// ParseReply reverses String; used to replay a stored reply.
func ParseReply(raw string) Reply {
	if body, ok := strings.CutPrefix(raw, "END "); ok {
		return End(body)
	}
	return Continue(strings.TrimPrefix(raw, "CON "))
}
