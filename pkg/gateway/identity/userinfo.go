package identity

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// UserInfo is the user record returned by user management on a successful
// credential check. The gateway fills Token before handing it to the caller.
type UserInfo struct {
	Username string `json:"username" validate:"required"`
	Name     string `json:"name"`
	Role     Role   `json:"role" validate:"required"`
	Token    string `json:"token"`
}

// Identity returns the token identity of the user.
func (u UserInfo) Identity() Identity {
	return Identity{Role: u.Role, Username: u.Username}
}

// DecodeUserInfo parses and validates a user-management payload.
func DecodeUserInfo(data []byte) (UserInfo, error) {
	var info UserInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return UserInfo{}, fmt.Errorf("decode user info: %w", err)
	}
	if err := Validator().Struct(info); err != nil {
		return UserInfo{}, fmt.Errorf("validate user info: %w", err)
	}
	return info, nil
}
