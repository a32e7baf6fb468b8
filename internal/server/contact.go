package server

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contextswitch/internal/notification"
)

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type subscriptionInterestRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Plan         string `json:"plan"`
	BillingCycle string `json:"billingCycle"`
	Message      string `json:"message"`
}

// Contact queues the message for the support inbox. Delivery happens in the
// background and failures never reach the caller.
func (s *Server) Contact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := requireFields(map[string]string{
		"name":    req.Name,
		"email":   req.Email,
		"message": req.Message,
	}); err != nil {
		AbortWithError(c, err)
		return
	}
	if !validEmail(req.Email) {
		AbortWithError(c, newValidationError("email", "invalid_email", "a valid email is required"))
		return
	}

	if s.notifier != nil {
		s.notifier.Contact(notification.ContactMessage{
			Name:    strings.TrimSpace(req.Name),
			Email:   strings.TrimSpace(req.Email),
			Subject: withPhone(req.Subject, req.Phone),
			Message: strings.TrimSpace(req.Message),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Your message has been sent. We will get back to you soon.",
	})
}

func (s *Server) ContactSubscription(c *gin.Context) {
	var req subscriptionInterestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := requireFields(map[string]string{
		"name":  req.Name,
		"email": req.Email,
		"plan":  req.Plan,
	}); err != nil {
		AbortWithError(c, err)
		return
	}
	if !validEmail(req.Email) {
		AbortWithError(c, newValidationError("email", "invalid_email", "a valid email is required"))
		return
	}

	if s.notifier != nil {
		message := strings.TrimSpace(req.Message)
		if phone := strings.TrimSpace(req.Phone); phone != "" {
			message = strings.TrimSpace("Phone: " + phone + "\n\n" + message)
		}
		s.notifier.SubscriptionInterest(notification.SubscriptionInterest{
			Name:         strings.TrimSpace(req.Name),
			Email:        strings.TrimSpace(req.Email),
			Plan:         strings.ToLower(strings.TrimSpace(req.Plan)),
			BillingCycle: strings.ToLower(strings.TrimSpace(req.BillingCycle)),
			Message:      message,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Thank you for your interest. We will contact you shortly to complete your subscription.",
	})
}

// requireFields reports every blank field at once, in a stable order.
func requireFields(fields map[string]string) error {
	var missing []ValidationError
	for _, name := range []string{"name", "email", "plan", "message"} {
		value, ok := fields[name]
		if !ok || strings.TrimSpace(value) != "" {
			continue
		}
		missing = append(missing, ValidationError{
			Field:   name,
			Code:    "required",
			Message: name + " is required",
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationErrors{Errors: missing}
}

func validEmail(value string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	return err == nil && addr.Address == strings.TrimSpace(value)
}

func withPhone(subject, phone string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "Contact form"
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		subject += " (" + phone + ")"
	}
	return subject
}
