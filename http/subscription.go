package http

import (
	"fmt"
	"net/http"

	"github.com/quantonganh/optin"
)

const (
	confirmationMessage = "A confirmation email has been sent to %s. Click the link in the email to confirm your subscription. Check your spam folder if you don't see it within a couple of minutes."
	thankyouMessage     = "Thank you for confirming your subscription."
	revokedMessage      = "Your subscription has been revoked."

	tokenParam = "subscription_token"
)

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) subscriptionsHandler(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return &optin.Error{Code: optin.ErrInvalid, Message: "The request body is not a valid form.", Err: err}
	}

	email := r.PostForm.Get("email")
	if err := s.SubscriptionService.Subscribe(r.Context(), email, r.PostForm.Get("name")); err != nil {
		return err
	}

	writeJSONResponse(w, http.StatusOK, &messageResponse{
		Message: fmt.Sprintf(confirmationMessage, email),
	})
	return nil
}

func (s *Server) confirmHandler(w http.ResponseWriter, r *http.Request) error {
	if err := s.SubscriptionService.Confirm(r.Context(), r.URL.Query().Get(tokenParam)); err != nil {
		return err
	}

	writeJSONResponse(w, http.StatusOK, &messageResponse{Message: thankyouMessage})
	return nil
}

func (s *Server) revokeHandler(w http.ResponseWriter, r *http.Request) error {
	if err := s.SubscriptionService.Revoke(r.Context(), r.URL.Query().Get(tokenParam)); err != nil {
		return err
	}

	writeJSONResponse(w, http.StatusOK, &messageResponse{Message: revokedMessage})
	return nil
}
