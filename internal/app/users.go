package app

import (
	"context"
	"net/mail"
	"strings"

	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/auth"
	"roomhub/pkg/domain"
)

// RegisterUserInput carries the registration form.
type RegisterUserInput struct {
	Email    string
	Username string
	Password string
}

func (in *RegisterUserInput) validate() map[string][]string {
	fields := map[string][]string{}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil {
		fields["email"] = append(fields["email"], "invalid email address")
	}
	username := domain.NormalizeUsername(in.Username)
	if len(username) < 3 || len(username) > 64 {
		fields["username"] = append(fields["username"], "username must be 3 to 64 characters")
	}
	if len(in.Password) < 8 {
		fields["password"] = append(fields["password"], "password must be at least 8 characters")
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// RegisterUser creates a new active user. The username is normalized
// to slug shape on write.
func (a *App) RegisterUser(ctx context.Context, in RegisterUserInput) (domain.User, error) {
	if fields := in.validate(); fields != nil {
		return domain.User{}, apperror.Validation("invalid registration input", fields)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, apperror.Internal(err)
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		Username:     domain.NormalizeUsername(in.Username),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return domain.User{}, translateDuplicate(err, "email or username already taken")
	}
	user.PasswordHash = ""
	return user, nil
}

// Authenticate checks credentials and returns the user. Deactivated
// accounts fail the same way as bad credentials.
func (a *App) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	user, ok, err := a.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return domain.User{}, apperror.Internal(err)
	}
	if !ok || !user.IsActive || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, apperror.PermissionDenied("invalid credentials")
	}
	user.PasswordHash = ""
	return user, nil
}

// GetUser loads a user by id.
func (a *App) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, ok, err := a.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, apperror.Internal(err)
	}
	if !ok {
		return domain.User{}, apperror.NotFound("user")
	}
	user.PasswordHash = ""
	return user, nil
}

// DeactivateUser soft-deactivates the account. Self-service or staff.
func (a *App) DeactivateUser(ctx context.Context, actor domain.User, userID string) error {
	if actor.ID != userID && !actor.IsStaff && !actor.IsSuperuser {
		return apperror.PermissionDenied("cannot deactivate another user")
	}
	user, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return apperror.Internal(err)
	}
	if !ok {
		return apperror.NotFound("user")
	}
	if !user.IsActive {
		return nil
	}
	user.IsActive = false
	user.UpdatedAt = a.now()
	if err := a.store.UpdateUser(ctx, user); err != nil {
		return apperror.Internal(err)
	}
	return nil
}
