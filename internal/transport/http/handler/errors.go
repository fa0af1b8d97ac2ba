package handler

const (
	errInternalServer   = "Internal server error"
	errTokenInvalid     = "Invalid or expired token"
	errTokenRequired    = "Token parameter is required"
	errUserInactive     = "Account is deactivated"
	errNotAuthenticated = "Authentication required"
	errEmailGateway     = "Could not send email, please try again later"
)
