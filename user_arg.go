package main

import (
	"errors"
	"strings"

	"association-chat/internal/models"
)

var errUserArg = errors.New("expected name:email:password[:role]")

// parseUserArg splits name:email:password[:role]. The password runs to the
// end of the argument and may contain colons; a trailing ":admin" or ":staff"
// is taken as the role.
func parseUserArg(arg string) (models.StaffUser, string, error) {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) < 3 {
		return models.StaffUser{}, "", errUserArg
	}
	user := models.StaffUser{
		Name:  strings.TrimSpace(parts[0]),
		Email: strings.TrimSpace(parts[1]),
		Role:  models.RoleStaff,
	}
	password := parts[2]
	if i := strings.LastIndex(password, ":"); i >= 0 {
		switch role := password[i+1:]; role {
		case models.RoleAdmin, models.RoleStaff:
			user.Role = role
			password = password[:i]
		}
	}
	if user.Name == "" || user.Email == "" || password == "" {
		return models.StaffUser{}, "", errUserArg
	}
	return user, password, nil
}
