package auth

import (
	"strings"
)

// Identity is the stable user identity attached to a connection.
type Identity struct {
	UserID int64
	Name   string
	Guest  bool
}

// Resolver turns a connection credential into an Identity.
type Resolver interface {
	Resolve(token string) (Identity, error)
}

// Resolve validates token and returns the identity it carries.
func (s *Service) Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID: claims.UserID,
		Name:   claims.Username,
		Guest:  claims.IsGuest,
	}, nil
}

var _ Resolver = (*Service)(nil)
