package http

import (
	"encoding/json"
	"net/http"

	"github.com/quantonganh/optin"
)

const publishedMessage = "The newsletter has been sent to every confirmed subscriber."

func (s *Server) newslettersHandler(w http.ResponseWriter, r *http.Request) error {
	var issue optin.Issue
	if err := json.NewDecoder(r.Body).Decode(&issue); err != nil {
		return &optin.Error{Code: optin.ErrInvalid, Message: "The request body is not a valid newsletter issue.", Err: err}
	}

	if err := s.NewsletterService.Publish(r.Context(), &issue); err != nil {
		return err
	}

	writeJSONResponse(w, http.StatusOK, &messageResponse{Message: publishedMessage})
	return nil
}
