package domain

import "errors"

var (
	// ErrTurnInFlight is returned when a user instruction, analysis call
	// or context upload arrives while a turn is already streaming.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")

	// ErrSessionBusy is returned when a user instruction arrives while a
	// document analysis or context upload is still running on the session.
	ErrSessionBusy = errors.New("the session is busy with analysis or a context upload")

	// ErrNoFieldsLoaded is returned when an instruction is submitted
	// before a document with fillable fields has been analyzed.
	ErrNoFieldsLoaded = errors.New("no document with form fields is loaded")

	// ErrSessionNotFound is returned when a session id resolves to
	// neither a live manager nor a persisted snapshot.
	ErrSessionNotFound = errors.New("session not found")
)
