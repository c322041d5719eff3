package api

// TurnResponse exposes the unexported turnResponse type to external tests.
type TurnResponse = turnResponse
