package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// Email is a rendered transactional message.
type Email struct {
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	Calendar string
}

var confirmationHTML = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2933;">
  <h2>Your session is booked</h2>
  <p>Hi {{.PayerName}},</p>
  <p>Your payment went through and your session with <strong>{{.TrainerName}}</strong> is confirmed.</p>
  <table cellpadding="4">
    <tr><td>When</td><td>{{.When}}</td></tr>
    <tr><td>Duration</td><td>{{.Duration}} minutes</td></tr>
    {{if .Location}}<tr><td>Where</td><td>{{.Location}}</td></tr>{{end}}
    <tr><td>Paid</td><td>{{.Price}}</td></tr>
    <tr><td>Booking</td><td>{{.BookingID}}</td></tr>
  </table>
  {{if .Notes}}<p>Notes: {{.Notes}}</p>{{end}}
  <p>A calendar invite is included with this email.</p>
</body>
</html>`))

type confirmationView struct {
	PayerName   string
	TrainerName string
	When        string
	Duration    int
	Location    string
	Price       string
	BookingID   string
	Notes       string
}

// RenderBookingConfirmation builds the confirmation email for the payer of b.
// trainer may be nil when the profile is missing.
func RenderBookingConfirmation(b *models.Booking, payer, trainer *models.User, organizer string) (Email, error) {
	trainerName := "your trainer"
	if trainer != nil && trainer.DisplayName != nil && *trainer.DisplayName != "" {
		trainerName = *trainer.DisplayName
	}

	view := confirmationView{
		PayerName:   payer.Name(),
		TrainerName: trainerName,
		When:        b.ScheduledAt.UTC().Format("Monday, January 2, 2006 at 15:04 MST"),
		Duration:    b.DurationMinutes,
		Location:    b.Location,
		Price:       formatPrice(b.PriceCents, b.Currency),
		BookingID:   b.ID,
		Notes:       b.Notes,
	}

	var html bytes.Buffer
	if err := confirmationHTML.Execute(&html, view); err != nil {
		return Email{}, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", view.PayerName)
	fmt.Fprintf(&text, "Your session with %s is confirmed.\n\n", view.TrainerName)
	fmt.Fprintf(&text, "When: %s\nDuration: %d minutes\n", view.When, view.Duration)
	if view.Location != "" {
		fmt.Fprintf(&text, "Where: %s\n", view.Location)
	}
	fmt.Fprintf(&text, "Paid: %s\nBooking: %s\n", view.Price, view.BookingID)

	return Email{
		To:       *payer.Email,
		ToName:   view.PayerName,
		Subject:  fmt.Sprintf("Booking confirmed with %s", trainerName),
		HTML:     html.String(),
		Text:     text.String(),
		Calendar: BookingInvite(b, *payer.Email, trainerName, organizer, time.Now().UTC()),
	}, nil
}

// BookingInvite renders an iCalendar REQUEST for the session.
func BookingInvite(b *models.Booking, attendee, trainerName, organizer string, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodRequest)
	cal.SetProductId("-//fitmarket//bookings//EN")

	event := cal.AddEvent(b.ID + "@fitmarket")
	event.SetDtStampTime(stamp)
	event.SetStartAt(b.ScheduledAt.UTC())
	event.SetEndAt(b.EndsAt().UTC())
	event.SetSummary("Training session with " + trainerName)
	if b.Location != "" {
		event.SetLocation(b.Location)
	}
	if b.Notes != "" {
		event.SetDescription(b.Notes)
	}
	if organizer != "" {
		event.SetOrganizer("mailto:"+organizer, ics.WithCN("FitMarket"))
	}
	event.AddAttendee(attendee,
		ics.CalendarUserTypeIndividual,
		ics.ParticipationStatusAccepted,
		ics.ParticipationRoleReqParticipant,
	)

	return cal.Serialize()
}

func formatPrice(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
