package auth

// State is the login state of a Manager.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	ExchangingCode
	LoggedIn
	Renewing
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case LoggingIn:
		return "logging_in"
	case ExchangingCode:
		return "exchanging_code"
	case LoggedIn:
		return "logged_in"
	case Renewing:
		return "renewing"
	}
	return "unknown"
}
