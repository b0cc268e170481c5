package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"subcontracting-service/internal/model"
)

// MailNotifier sends transactional mail through an HTTP mail API. Every
// notification is fire-and-forget: failures are logged, never propagated to
// the transition that triggered them.
type MailNotifier struct {
	apiURL     string
	apiKey     string
	fromEmail  string
	adminEmail string
	httpClient *http.Client
	log        zerolog.Logger
}

// New returns nil when the mail API is unconfigured; callers treat a nil
// notifier as disabled.
func New(apiURL, apiKey, fromEmail, adminEmail string, log zerolog.Logger) *MailNotifier {
	if apiURL == "" || apiKey == "" {
		return nil
	}
	return &MailNotifier{
		apiURL:     apiURL,
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		adminEmail: adminEmail,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (n *MailNotifier) CourseAssigned(course *model.Course, driver *model.Driver) {
	subject := fmt.Sprintf("Course attribuée: %s -> %s", course.PickupAddress, course.DropoffAddress)
	body := fmt.Sprintf(
		"La course du %s a été attribuée à %s (%s).\nClient: %s, %s.",
		course.ScheduledAt.Format("02/01/2006 15:04"),
		driver.CompanyName, driver.Email,
		course.ClientName, course.ClientPhone,
	)
	n.send(driver.Email, subject, body)
	if n.adminEmail != "" {
		n.send(n.adminEmail, subject, body)
	}
}

func (n *MailNotifier) CourseCancelled(course *model.Course, actor model.CancelActor) {
	if n.adminEmail == "" {
		return
	}
	subject := fmt.Sprintf("Course annulée (%s): %s -> %s", actor, course.PickupAddress, course.DropoffAddress)
	body := fmt.Sprintf("La course du %s a été annulée par %s.",
		course.ScheduledAt.Format("02/01/2006 15:04"), actor)
	n.send(n.adminEmail, subject, body)
}

func (n *MailNotifier) DriverDeactivated(driver *model.Driver) {
	subject := "Compte désactivé"
	body := "Votre compte a été désactivé suite à des annulations tardives répétées. Contactez l'administrateur."
	n.send(driver.Email, subject, body)
	if n.adminEmail != "" {
		n.send(n.adminEmail,
			fmt.Sprintf("Chauffeur désactivé: %s", driver.CompanyName),
			fmt.Sprintf("Le compte de %s (%s) a été désactivé automatiquement.", driver.CompanyName, driver.Email))
	}
}

type mailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (n *MailNotifier) send(to, subject, text string) {
	go func() {
		payload, err := json.Marshal(mailPayload{
			From:    n.fromEmail,
			To:      to,
			Subject: subject,
			Text:    text,
		})
		if err != nil {
			n.log.Error().Err(err).Msg("failed to marshal mail payload")
			return
		}

		req, err := http.NewRequest(http.MethodPost, n.apiURL, bytes.NewReader(payload))
		if err != nil {
			n.log.Error().Err(err).Msg("failed to build mail request")
			return
		}
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.log.Warn().Err(err).Str("to", to).Msg("mail delivery failed")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			n.log.Warn().Int("status", resp.StatusCode).Str("to", to).Msg("mail API rejected message")
			return
		}
		n.log.Debug().Str("to", to).Str("subject", subject).Msg("mail sent")
	}()
}
