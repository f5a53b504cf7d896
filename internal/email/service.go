// Package email notifies stage participants over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/smtp"
	"slices"
	"strings"
	"sync"
	"time"

	"shipflow/api/internal/workflow"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	BaseURL  string
}

const defaultSendTimeout = 30 * time.Second

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Service sends stage notifications. Actor ids that look like email
// addresses are the only recipients; other ids are skipped. Mail is sent
// in the background so a slow server never holds up a workflow operation.
type Service struct {
	config  Config
	server  string
	auth    smtp.Auth
	send    sendFunc
	timeout time.Duration
	pending sync.WaitGroup
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	svc := &Service{
		config:  config,
		server:  config.Host + ":" + config.Port,
		auth:    auth,
		timeout: defaultSendTimeout,
	}
	svc.send = svc.sendMail
	return svc
}

// Wait blocks until every queued notification has been attempted.
func (s *Service) Wait() {
	s.pending.Wait()
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// HandleEvent emails the participants who now have something to do.
func (s *Service) HandleEvent(_ context.Context, event workflow.Event) error {
	if !s.IsConfigured() {
		return nil
	}
	shipment := event.Shipment

	var (
		recipients []string
		subject    string
		data       notificationData
	)
	switch event.Type {
	case workflow.EventShipmentCreated, workflow.EventStageAdvanced:
		if !shipment.HasStage(shipment.CurrentStage) {
			return nil
		}
		stage := shipment.Stages[shipment.CurrentStage]
		recipients = mailRecipients(append(slices.Clone(stage.Signers), stage.InfoProviders...))
		subject = fmt.Sprintf("Shipment %s: stage %q is active", shipment.ID, stage.Name)
		data = notificationData{
			Heading:   fmt.Sprintf("Stage %q is now active", stage.Name),
			Documents: shipment.PendingDocuments(shipment.CurrentStage),
			Signers:   shipment.PendingSigners(shipment.CurrentStage),
		}
	case workflow.EventShipmentFinalized:
		var everyone []string
		for _, stage := range shipment.Stages {
			everyone = append(everyone, stage.Signers...)
			everyone = append(everyone, stage.InfoProviders...)
		}
		recipients = mailRecipients(everyone)
		subject = fmt.Sprintf("Shipment %s is finalized", shipment.ID)
		data = notificationData{Heading: "Every stage has been approved"}
	default:
		return nil
	}
	if len(recipients) == 0 {
		return nil
	}

	data.ShipmentID = shipment.ID
	data.Actor = event.Actor
	if s.config.BaseURL != "" {
		data.Link = strings.TrimRight(s.config.BaseURL, "/") + "/api/shipments/" + shipment.ID
	}
	html, err := renderTemplate(notificationTemplate, data)
	if err != nil {
		return fmt.Errorf("render notification template: %w", err)
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.SendHTMLEmail(recipients, subject, html); err != nil {
			log.Printf("email: %s notification for %s failed: %v", event.Type, shipment.ID, err)
		}
	}()
	return nil
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-shipflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	subject = headerValue(subject)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", subject)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// sendMail is smtp.SendMail with a deadline on the whole conversation.
func (s *Service) sendMail(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("set smtp deadline: %w", err)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parse smtp address %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return client.Quit()
}

// headerValue keeps admin-supplied names from adding header lines.
func headerValue(value string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(value)
}

type notificationData struct {
	ShipmentID string
	Heading    string
	Actor      string
	Documents  []string
	Signers    []string
	Link       string
}

func mailRecipients(actors []string) []string {
	out := make([]string, 0, len(actors))
	for _, actor := range actors {
		if !strings.Contains(actor, "@") || strings.ContainsAny(actor, "\r\n") || slices.Contains(out, actor) {
			continue
		}
		out = append(out, actor)
	}
	return out
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Shipment {{.ShipmentID}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Shipment {{.ShipmentID}}</h1>
    </div>

    <h2>{{.Heading}}</h2>
    {{if .Actor}}<p>Last action by {{.Actor}}.</p>{{end}}

    {{if .Documents}}
    <p>Documents still required:</p>
    <ul>{{range .Documents}}<li>{{.}}</li>{{end}}</ul>
    {{end}}

    {{if .Signers}}
    <p>Waiting for approval from:</p>
    <ul>{{range .Signers}}<li>{{.}}</li>{{end}}</ul>
    {{end}}

    {{if .Link}}<p><a href="{{.Link}}">{{.Link}}</a></p>{{end}}

    <div class="footer">
        <p>You receive this because you are assigned to this shipment.</p>
    </div>
</body>
</html>`
