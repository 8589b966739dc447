// Package account implements signup, signin and score bookkeeping on top of
// the user store.
package account

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	"cardtable/internal/auth"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

// SignupRequest is the body of POST /api/users/auth/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SigninRequest is the body of POST /api/users/auth/signin.
type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is what a successful signin returns.
type Session struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
}

type Service struct {
	users     interfaces.UserStore
	passwords *auth.Passwords
	tokens    *auth.Tokens
	log       *logrus.Entry
}

func NewService(users interfaces.UserStore, passwords *auth.Passwords, tokens *auth.Tokens, log *logrus.Entry) *Service {
	return &Service{users: users, passwords: passwords, tokens: tokens, log: log}
}

// Signup creates an account. Duplicate usernames or emails are conflicts.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*types.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, apperror.BadRequest("username, email and password are required")
	}
	if !types.IsValidUsername(req.Username) {
		return nil, apperror.BadRequest(types.ErrInvalidUsername.Error())
	}
	if !types.IsValidEmail(req.Email) {
		return nil, apperror.BadRequest(types.ErrInvalidEmail.Error())
	}
	if err := types.ValidatePassword(req.Password); err != nil {
		return nil, apperror.BadRequest(err.Error())
	}

	// Email is checked before username so a request colliding on both reports
	// the email. The unique constraints still catch concurrent signups.
	if err := s.ensureAvailable(ctx, req); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindInternal, "failed to create user")
	}

	user := &types.User{Username: req.Username, Email: req.Email, PasswordHash: hash}
	if _, err := s.users.CreateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrDuplicateEmail):
			return nil, apperror.Conflict("email already registered")
		case errors.Is(err, interfaces.ErrDuplicateUsername):
			return nil, apperror.Conflict("username already taken")
		default:
			return nil, storeError(err)
		}
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("user signed up")
	return user, nil
}

func (s *Service) ensureAvailable(ctx context.Context, req SignupRequest) error {
	if _, err := s.users.GetUserByEmail(ctx, req.Email); err == nil {
		return apperror.Conflict("email already registered")
	} else if !errors.Is(err, interfaces.ErrUserNotFound) {
		return storeError(err)
	}
	if _, err := s.users.GetUserByUsername(ctx, req.Username); err == nil {
		return apperror.Conflict("username already taken")
	} else if !errors.Is(err, interfaces.ErrUserNotFound) {
		return storeError(err)
	}
	return nil
}

// Signin checks credentials and issues an access token. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Signin(ctx context.Context, req SigninRequest) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, apperror.BadRequest("email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, apperror.Unauthenticated("invalid email or password")
		}
		return nil, storeError(err)
	}

	if err := s.passwords.Compare(user.PasswordHash, req.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthenticated("invalid email or password")
		}
		return nil, apperror.Wrap(err, apperror.KindInternal, "failed to verify credentials")
	}

	token, err := s.tokens.Issue(strconv.FormatInt(user.ID, 10), user.Username)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindInternal, "failed to issue token")
	}
	return &Session{AccessToken: token, UserID: user.ID, Username: user.Username}, nil
}

func (s *Service) GetScore(ctx context.Context, userID int64) (*types.User, error) {
	if userID <= 0 {
		return nil, apperror.BadRequest("invalid user id")
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, storeError(err)
	}
	return user, nil
}

// UpdateScore applies one finished game to the user's totals.
func (s *Service) UpdateScore(ctx context.Context, update types.ScoreUpdate) (*types.User, error) {
	if update.UserID <= 0 {
		return nil, apperror.BadRequest("user_id is required")
	}
	user, err := s.users.ApplyScore(ctx, update)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, storeError(err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":      user.ID,
		"score_change": update.ScoreChange,
		"game_won":     update.GameWon,
		"new_score":    user.Score,
	}).Info("score updated")
	return user, nil
}

// storeError keeps classified errors (and their retry marker) intact and
// surfaces everything else as an upstream failure.
func storeError(err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Upstream(err, "user store unavailable")
}
