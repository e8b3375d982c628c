package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"otp-auth-service/internal/util"
)

const (
	usernameMinLength = 3
	usernameMaxLength = 30
	nameMaxLength     = 100
	phoneMaxLength    = 32
	urlMaxLength      = 2048
	maxInterests      = 20
	interestMaxLength = 64
)

type RegisterRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// UpdateProfileRequest patches only the fields that are present.
type UpdateProfileRequest struct {
	FirstName       *string   `json:"firstName"`
	LastName        *string   `json:"lastName"`
	Phone           *string   `json:"phone"`
	ProfileImage    *string   `json:"profileImage"`
	AreasOfInterest *[]string `json:"areasOfInterest"`
}

// RequestMeta identifies the caller for audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

func (r *RegisterRequest) normalize() {
	r.Email = util.NormalizeEmail(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Phone = strings.TrimSpace(r.Phone)
}

func (r *RegisterRequest) validate(minPassword int) error {
	if r.Email == "" || r.Username == "" || r.Password == "" {
		return invalid("Email, username, and password are required")
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	n := utf8.RuneCountInString(r.Username)
	if n < usernameMinLength || n > usernameMaxLength {
		return invalid(fmt.Sprintf("Username must be between %d and %d characters", usernameMinLength, usernameMaxLength))
	}
	if util.ContainsSuspicious(r.Username) {
		return invalid("Username contains invalid characters")
	}
	if err := validatePassword(r.Password, minPassword); err != nil {
		return err
	}
	return validateProfileText(r.FirstName, r.LastName, r.Phone)
}

func validateEmail(email string) error {
	if !util.IsValidEmail(email) {
		return invalid("Invalid email format")
	}
	return nil
}

func validatePassword(password string, min int) error {
	if utf8.RuneCountInString(password) < min {
		return invalid(fmt.Sprintf("Password must be at least %d characters long", min))
	}
	return nil
}

func validateProfileText(firstName, lastName, phone string) error {
	if utf8.RuneCountInString(firstName) > nameMaxLength || utf8.RuneCountInString(lastName) > nameMaxLength {
		return invalid(fmt.Sprintf("Names must be at most %d characters", nameMaxLength))
	}
	if len(phone) > phoneMaxLength {
		return invalid("Invalid phone number")
	}
	for _, c := range phone {
		if !strings.ContainsRune("0123456789+-() .", c) {
			return invalid("Invalid phone number")
		}
	}
	return nil
}

func (r *UpdateProfileRequest) validate() error {
	var first, last, phone string
	if r.FirstName != nil {
		*r.FirstName = strings.TrimSpace(*r.FirstName)
		first = *r.FirstName
	}
	if r.LastName != nil {
		*r.LastName = strings.TrimSpace(*r.LastName)
		last = *r.LastName
	}
	if r.Phone != nil {
		*r.Phone = strings.TrimSpace(*r.Phone)
		phone = *r.Phone
	}
	if err := validateProfileText(first, last, phone); err != nil {
		return err
	}
	if r.ProfileImage != nil {
		*r.ProfileImage = strings.TrimSpace(*r.ProfileImage)
		img := *r.ProfileImage
		if len(img) > urlMaxLength || util.ContainsSuspicious(img) {
			return invalid("Invalid profile image URL")
		}
		if img != "" && !strings.HasPrefix(img, "https://") && !strings.HasPrefix(img, "http://") {
			return invalid("Invalid profile image URL")
		}
	}
	if r.AreasOfInterest != nil {
		if len(*r.AreasOfInterest) > maxInterests {
			return invalid(fmt.Sprintf("At most %d areas of interest are allowed", maxInterests))
		}
		cleaned := make([]string, 0, len(*r.AreasOfInterest))
		for _, a := range *r.AreasOfInterest {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			if utf8.RuneCountInString(a) > interestMaxLength || util.ContainsSuspicious(a) {
				return invalid("Invalid area of interest")
			}
			cleaned = append(cleaned, a)
		}
		*r.AreasOfInterest = cleaned
	}
	return nil
}
