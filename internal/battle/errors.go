package battle

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeMarketClosed          Code = "MARKET_CLOSED"
	CodeInvalidSide           Code = "INVALID_SIDE"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeBetOutOfRange         Code = "BET_OUT_OF_RANGE"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeDuplicateRegistration Code = "DUPLICATE_REGISTRATION"
	CodeNotRegistered         Code = "NOT_REGISTERED"
	CodeUnevenTeams           Code = "UNEVEN_TEAMS"
	CodeUnknownTeam           Code = "UNKNOWN_TEAM"
	CodeTournamentActive      Code = "TOURNAMENT_ACTIVE"
	CodeModeSelectPending     Code = "MODE_SELECT_PENDING"
	CodeNotChooser            Code = "NOT_CHOOSER"
	CodeInvalidMode           Code = "INVALID_MODE"
	CodeNotEnoughEntrants     Code = "NOT_ENOUGH_ENTRANTS"
	CodeTeamFull              Code = "TEAM_FULL"
	CodeForbidden             Code = "FORBIDDEN"
)

// ValidationError is a user-facing rejection. The operation that returned it
// left tournament and market state unchanged.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrMarketClosed          = &ValidationError{CodeMarketClosed, "betting is closed for this match"}
	ErrInvalidSide           = &ValidationError{CodeInvalidSide, "side must be A or B"}
	ErrInvalidAmount         = &ValidationError{CodeInvalidAmount, "bet amount must be positive"}
	ErrBetOutOfRange         = &ValidationError{CodeBetOutOfRange, "bet amount is outside the allowed range"}
	ErrInsufficientBalance   = &ValidationError{CodeInsufficientBalance, "insufficient balance"}
	ErrDuplicateRegistration = &ValidationError{CodeDuplicateRegistration, "already registered"}
	ErrNotRegistered         = &ValidationError{CodeNotRegistered, "not registered"}
	ErrUnevenTeams           = &ValidationError{CodeUnevenTeams, "teams must have the same number of fighters"}
	ErrUnknownTeam           = &ValidationError{CodeUnknownTeam, "unknown team"}
	ErrTournamentActive      = &ValidationError{CodeTournamentActive, "a tournament is already in progress"}
	ErrModeSelectPending     = &ValidationError{CodeModeSelectPending, "waiting for the first fighter to choose a mode"}
	ErrNotChooser            = &ValidationError{CodeNotChooser, "only the first fighter can choose the mode"}
	ErrInvalidMode           = &ValidationError{CodeInvalidMode, "mode must be bracket or team_war"}
	ErrNotEnoughEntrants     = &ValidationError{CodeNotEnoughEntrants, "at least two fighters are needed"}
	ErrTeamFull              = &ValidationError{CodeTeamFull, "this team is full"}
)

// StateError means an operation was invoked in a state that correct
// orchestration never produces.
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

func IsState(err error) bool {
	var s *StateError
	return errors.As(err, &s)
}
