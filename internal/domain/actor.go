package domain

// Actor is the already-authenticated caller handed to the core by the transport.
type Actor struct {
	UserID     string
	Role       Role
	Department string
}
