// Package alert turns an emergency event into per-contact SMS and email
// messages and hands them to the messaging launcher.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
)

// Marker opens every alert body.
const Marker = "EMERGENCY ALERT"

// DefaultEmergencyNumber is dialled when Config.EmergencyNumber is empty.
const DefaultEmergencyNumber = "911"

// TimeLayout renders the event time in alert bodies.
const TimeLayout = "Mon, 02 Jan 2006 15:04 MST"

// Channel is the medium used for one attempt.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Launcher hands a composed sms:, mailto: or tel: URI to whatever delivers it.
// It reports false when the URI could not be opened.
type Launcher interface {
	Open(ctx context.Context, uri string) bool
}

// Attempt is the outcome of one channel for one contact.
type Attempt struct {
	ContactID   string  `json:"contact_id"`
	ContactName string  `json:"contact_name"`
	Channel     Channel `json:"channel"`
	Delivered   bool    `json:"delivered"`
	Error       string  `json:"error,omitempty"`
}

// Report lists every attempt of a fan-out in contact order.
type Report struct {
	Attempts []Attempt `json:"attempts"`
}

// Failures counts the attempts that were not delivered.
func (r Report) Failures() int {
	n := 0
	for _, a := range r.Attempts {
		if !a.Delivered {
			n++
		}
	}
	return n
}

// Config holds the message settings.
type Config struct {
	// TrackingBaseURL is the web app that renders /track/<tripId>.
	TrackingBaseURL string
	AppName         string
	// EmergencyNumber is the local emergency services number.
	EmergencyNumber string
	// Location is the zone used for the human-readable time. Nil means UTC.
	Location *time.Location
}

// Dispatcher composes and sends contact alerts.
type Dispatcher struct {
	launcher Launcher
	cfg      Config
	log      *slog.Logger
}

// NewDispatcher returns a Dispatcher sending through launcher.
func NewDispatcher(launcher Launcher, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.AppName == "" {
		cfg.AppName = "HitchSafe"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.EmergencyNumber == "" {
		cfg.EmergencyNumber = DefaultEmergencyNumber
	}
	return &Dispatcher{launcher: launcher, cfg: cfg, log: log}
}

// TrackingURL returns the live tracking link for tripID.
func (d *Dispatcher) TrackingURL(tripID string) string {
	return strings.TrimRight(d.cfg.TrackingBaseURL, "/") + "/track/" + url.PathEscape(tripID)
}

// Message renders the alert body for event.
func (d *Dispatcher) Message(event domain.EmergencyEvent) string {
	loc := "unknown"
	if event.Location != nil {
		loc = fmt.Sprintf("%.6f, %.6f", event.Location.Latitude, event.Location.Longitude)
	}
	msg := event.Message
	if msg == "" {
		msg = domain.DefaultEmergencyMessage
	}

	var b strings.Builder
	b.WriteString(Marker)
	b.WriteString("\n\n")
	b.WriteString(msg)
	b.WriteString("\n\nLocation: ")
	b.WriteString(loc)
	b.WriteString("\n\nTrack live location: ")
	b.WriteString(d.TrackingURL(event.TripID))
	b.WriteString("\n\nTime: ")
	b.WriteString(event.Timestamp.In(d.cfg.Location).Format(TimeLayout))
	b.WriteString("\n\nThis is an automated emergency alert from ")
	b.WriteString(d.cfg.AppName)
	b.WriteString(".")
	return b.String()
}

// FanOut alerts every contact in order: one SMS attempt each, plus one
// email attempt when the contact has an email. A failed attempt is logged
// and recorded in the report; it never stops the remaining attempts.
func (d *Dispatcher) FanOut(ctx context.Context, event domain.EmergencyEvent, contacts []domain.EmergencyContact) Report {
	body := d.Message(event)
	subject := "Emergency Alert - " + d.cfg.AppName

	report := Report{Attempts: make([]Attempt, 0, len(contacts)*2)}
	for _, c := range contacts {
		report.Attempts = append(report.Attempts, d.send(ctx, event, c, ChannelSMS, smsURI(c.PhoneNumber, body)))
		if c.Email != "" {
			report.Attempts = append(report.Attempts, d.send(ctx, event, c, ChannelEmail, mailtoURI(c.Email, subject, body)))
		}
	}

	d.log.Info("emergency contacts alerted",
		"trip_id", event.TripID,
		"contacts", len(contacts),
		"attempts", len(report.Attempts),
		"failures", report.Failures(),
	)
	return report
}

// CallEmergencyServices opens the dialer on the emergency number. opened is
// false when the launcher refused the tel: URI; the caller then has to dial
// by hand.
func (d *Dispatcher) CallEmergencyServices(ctx context.Context) (uri string, opened bool) {
	uri = telURI(d.cfg.EmergencyNumber)
	opened = d.launcher.Open(ctx, uri)
	if !opened {
		d.log.WarnContext(ctx, "emergency call not placed", "uri", uri)
		return uri, false
	}
	d.log.InfoContext(ctx, "emergency call placed", "uri", uri)
	return uri, true
}

func (d *Dispatcher) send(ctx context.Context, event domain.EmergencyEvent, c domain.EmergencyContact, ch Channel, uri string) Attempt {
	a := Attempt{ContactID: c.ID, ContactName: c.Name, Channel: ch}

	var err error
	switch {
	case ch == ChannelSMS && c.PhoneNumber == "":
		err = fmt.Errorf("%w: contact has no phone number", domain.ErrAlertDispatch)
	case !d.launcher.Open(ctx, uri):
		err = fmt.Errorf("%w: launcher refused %s", domain.ErrAlertDispatch, ch)
	}
	if err != nil {
		a.Error = err.Error()
		d.log.Warn("emergency alert not delivered",
			"trip_id", event.TripID,
			"contact_id", c.ID,
			"channel", string(ch),
			"error", err,
		)
		return a
	}
	a.Delivered = true
	return a
}

func smsURI(phone, body string) string {
	return "sms:" + url.PathEscape(phone) + "?body=" + escape(body)
}

func mailtoURI(email, subject, body string) string {
	return "mailto:" + url.PathEscape(email) + "?subject=" + escape(subject) + "&body=" + escape(body)
}

func telURI(number string) string {
	return "tel:" + url.PathEscape(number)
}

// escape percent-encodes s for a URI query value, spaces as %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
