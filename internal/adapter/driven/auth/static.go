package auth

import (
	"context"
	"strings"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

// Static resolves bearer tokens from a fixed table.
type Static struct {
	tokens         map[string]domain.UserID
	allowAnonymous bool
}

// NewStatic builds the table from token -> user id pairs. With
// allowAnonymous, an unknown token is taken as the user id itself.
func NewStatic(tokens map[string]string, allowAnonymous bool) *Static {
	t := make(map[string]domain.UserID, len(tokens))
	for token, user := range tokens {
		t[token] = domain.UserID(user)
	}
	return &Static{tokens: t, allowAnonymous: allowAnonymous}
}

func (s *Static) Authenticate(ctx context.Context, token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrUnauthorized
	}
	if user, ok := s.tokens[token]; ok {
		return user, nil
	}
	if s.allowAnonymous {
		return domain.UserID(token), nil
	}
	return "", domain.ErrUnauthorized
}
