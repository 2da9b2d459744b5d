package orchestrator

import "errors"

var (
	// ErrNotFound is returned when the newsletter does not exist
	ErrNotFound = errors.New("newsletter not found")
	// ErrAlreadySent is returned when a sent newsletter is sent or scheduled again
	ErrAlreadySent = errors.New("newsletter already sent")
	// ErrConfigurationInvalid is returned when the relay configuration is unusable
	ErrConfigurationInvalid = errors.New("email service configuration invalid")
	// ErrNoRecipients is returned when the target groups resolve to nobody
	ErrNoRecipients = errors.New("no recipients found")
	// ErrConflict is returned when the newsletter is not in a state the
	// operation can start from, including a lost status race
	ErrConflict = errors.New("newsletter status conflict")
	// ErrImmutable is returned when editing the content of a sent newsletter
	ErrImmutable = errors.New("sent newsletter content cannot be changed")
	// ErrInvalidSchedule is returned when the schedule time is not in the future
	ErrInvalidSchedule = errors.New("scheduled time must be in the future")
	// ErrInvalidArgument is returned for malformed editor input
	ErrInvalidArgument = errors.New("invalid argument")
)
