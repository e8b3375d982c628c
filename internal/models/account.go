package models

import "time"

const (
	RoleUser      = "user"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

// Account is the credential record. Secret fields never leave the service;
// responses use PublicProfile.
type Account struct {
	ID              string     `db:"account_id"`
	Email           string     `db:"email"`
	Username        string     `db:"username"`
	PasswordHash    string     `db:"password_hash"`
	EmailVerified   bool       `db:"email_verified"`
	Role            string     `db:"role"`
	IsActive        bool       `db:"is_active"`
	FirstName       string     `db:"first_name"`
	LastName        string     `db:"last_name"`
	Phone           string     `db:"phone_encrypted"`
	ProfileImage    string     `db:"profile_image"`
	AreasOfInterest []string   `db:"areas_of_interest"`
	ResetTokenHash  string     `db:"reset_token_hash"`
	ResetExpiresAt  *time.Time `db:"reset_expires_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// HasPassword reports whether the account can use the password login path.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// ClearReset drops the pending password-reset challenge.
func (a *Account) ClearReset() {
	a.ResetTokenHash = ""
	a.ResetExpiresAt = nil
}

// MarkVerified is monotonic; nothing sets EmailVerified back to false.
func (a *Account) MarkVerified() {
	a.EmailVerified = true
}

// PublicProfile is the only account shape serialised in responses.
type PublicProfile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Username        string    `json:"username"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	ProfileImage    string    `json:"profileImage,omitempty"`
	AreasOfInterest []string  `json:"areasOfInterest"`
	Role            string    `json:"role"`
	EmailVerified   bool      `json:"emailVerified"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (a *Account) Public() PublicProfile {
	interests := a.AreasOfInterest
	if interests == nil {
		interests = []string{}
	}
	return PublicProfile{
		ID:              a.ID,
		Email:           a.Email,
		Username:        a.Username,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		Phone:           a.Phone,
		ProfileImage:    a.ProfileImage,
		AreasOfInterest: interests,
		Role:            a.Role,
		EmailVerified:   a.EmailVerified,
		IsActive:        a.IsActive,
		CreatedAt:       a.CreatedAt,
	}
}
