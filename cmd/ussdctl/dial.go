package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	dialURL     string
	dialPhone   string
	dialSession string
	dialCode    string
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Simulate a handset against a running service",
	Long: `Start a USSD session and type replies interactively. Each input is appended to the
accumulated text and posted to /ussd the way a gateway would, until the service ends
the session.

Examples:
  ussdctl dial --phone 08031234567
  ussdctl dial --url https://ussd.example.com/ussd --phone +2348031234567`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(dialPhone) == "" {
			return fmt.Errorf("--phone is required")
		}
		sessionID := dialSession
		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		d := &dialer{
			client:    &http.Client{Timeout: 15 * time.Second},
			url:       dialURL,
			phone:     dialPhone,
			sessionID: sessionID,
			code:      dialCode,
		}
		return d.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	dialCmd.Flags().StringVar(&dialURL, "url", "http://localhost:8080/ussd", "USSD callback url")
	dialCmd.Flags().StringVar(&dialPhone, "phone", "", "caller phone number")
	dialCmd.Flags().StringVar(&dialSession, "session", "", "session id (random when empty)")
	dialCmd.Flags().StringVar(&dialCode, "code", "*384*2025#", "service code sent with each request")
}

type dialer struct {
	client    *http.Client
	url       string
	phone     string
	sessionID string
	code      string
}

// run posts the opening request, then one request per input line, until an END reply or
// the input is exhausted.
func (d *dialer) run(ctx context.Context, in io.Reader, out io.Writer) error {
	var inputs []string
	scanner := bufio.NewScanner(in)

	for {
		reply, err := d.post(ctx, strings.Join(inputs, "*"))
		if err != nil {
			return err
		}
		body, terminal := splitReply(reply)
		fmt.Fprintln(out, body)
		if terminal {
			return nil
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		inputs = append(inputs, strings.TrimSpace(scanner.Text()))
	}
}

func (d *dialer) post(ctx context.Context, text string) (string, error) {
	form := url.Values{}
	form.Set("sessionId", d.sessionID)
	form.Set("phoneNumber", d.phone)
	form.Set("serviceCode", d.code)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post ussd request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ussd reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ussd endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return string(raw), nil
}

// splitReply strips the CON/END marker. Anything without a marker is treated as terminal.
func splitReply(reply string) (body string, terminal bool) {
	if rest, ok := strings.CutPrefix(reply, "CON "); ok {
		return rest, false
	}
	if rest, ok := strings.CutPrefix(reply, "END "); ok {
		return rest, true
	}
	return reply, true
}
