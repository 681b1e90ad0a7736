package notify

import (
	"fmt"
	"time"
)

// BookingConfirmation builds the confirmation email for a freshly booked
// appointment. Times are rendered in the business timezone.
func BookingConfirmation(clientName, clientEmail string, start, end time.Time, loc *time.Location) EmailMessage {
	if loc == nil {
		loc = time.UTC
	}
	localStart := start.In(loc)
	localEnd := end.In(loc)

	day := localStart.Format("Monday, January 2, 2006")
	window := fmt.Sprintf("%s – %s", localStart.Format("3:04 PM"), localEnd.Format("3:04 PM"))

	body := fmt.Sprintf(
		"Hi %s,\n\nYour appointment is confirmed for %s, %s.\n\nSee you then!\n",
		clientName, day, window,
	)
	return EmailMessage{
		To:      clientEmail,
		ToName:  clientName,
		Subject: fmt.Sprintf("Appointment confirmed: %s", day),
		Body:    body,
	}
}
