package models

// RecipientError is a per-recipient delivery failure
type RecipientError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// SendResult aggregates the outcome of one dispatch run
type SendResult struct {
	Total        int              `json:"total"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	Errors       []RecipientError `json:"errors,omitempty"`
	Success      bool             `json:"success"`
}
