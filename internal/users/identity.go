package users

import (
	"strings"
	"time"
)

// User is the directory record behind a canonical doodlemap user id.
type User struct {
	ID          string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Provider    string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_users_identity"`
	Subject     string    `gorm:"column:subject;size:190;not null;uniqueIndex:idx_users_identity"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing the user directory.
func (User) TableName() string {
	return "users"
}

// Profile is the public part of a User.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Profile projects the user for clients.
func (u User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
