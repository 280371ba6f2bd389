package ports

import "context"

// Port: supplies the auth token for the real-time gateway connection.
// A fresh token is requested on every (re)connect attempt.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
