package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsFrozen     bool      `json:"isFrozen"`
	IsDeleted    bool      `json:"isDeleted"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Principal is the identity attached to a connection once its credential
// has been verified. It is loaded once per connection and never refreshed.
type Principal struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Frozen      bool   `json:"frozen"`
	Deleted     bool   `json:"deleted"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Actor is the principal behind an inbound event and the tab it arrived on.
type Actor struct {
	Principal
	ConnID string
}

func (p Principal) Summary() *UserSummary {
	return &UserSummary{ID: p.ID, Username: p.Username, DisplayName: p.DisplayName}
}

func (u *User) Principal() Principal {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Principal{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: name,
		Role:        u.Role,
		Frozen:      u.IsFrozen,
		Deleted:     u.IsDeleted,
	}
}

func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

// UserSummary is the public projection of a user used to enrich events.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=30,alphanumunicode"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"max=60"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// DashboardStats is computed from the stores on every request.
type DashboardStats struct {
	TotalUsers    int64          `json:"totalUsers"`
	OnlineUsers   int            `json:"onlineUsers"`
	TotalPosts    int64          `json:"totalPosts"`
	TotalComments int64          `json:"totalComments"`
	FrozenUsers   int64          `json:"frozenUsers"`
	DeletedUsers  int64          `json:"deletedUsers"`
	RecentUsers   []*UserSummary `json:"recentUsers"`
	GeneratedAt   time.Time      `json:"generatedAt"`
}
