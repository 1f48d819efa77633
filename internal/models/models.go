package models

import "time"

const (
	RoleTagUser  = "user"
	RoleTagAdmin = "admin"

	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"

	IntegrationEasy   = "easy"
	IntegrationCustom = "custom"
)

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Bio          string `json:"bio"`
	Role         string `json:"role"`                  // coarse tag: user|admin
	CustomRole   string `json:"custom_role,omitempty"` // Role id; may dangle after role deletion
	Status       string `json:"status"`
	PasswordHash string `json:"hashed_password"`

	TokensUsedThisMonth int       `json:"tokens_used_this_month"`
	UsageResetAt        time.Time `json:"usage_reset_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserView is the client-facing shape of a User. The password hash and
// usage internals never leave the process in any other form.
type UserView struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Bio        string    `json:"bio"`
	Role       string    `json:"role"`
	CustomRole string    `json:"custom_role,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u *User) View() UserView {
	return UserView{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Bio:        u.Bio,
		Role:       u.Role,
		CustomRole: u.CustomRole,
		Status:     u.Status,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func (u *User) IsAdmin() bool { return u.Role == RoleTagAdmin }

type ModelPermission struct {
	View      bool `json:"view"`
	Use       bool `json:"use"`
	Configure bool `json:"configure"`
}

type FeaturePermissions struct {
	Chat     bool `json:"chat"`
	History  bool `json:"history"`
	Export   bool `json:"export"`
	Share    bool `json:"share"`
	Settings bool `json:"settings"`
	Profile  bool `json:"profile"`
	UserChat bool `json:"user_chat"`
}

type AdminPermissions struct {
	ManageUsers    bool `json:"manage_users"`
	ManageModels   bool `json:"manage_models"`
	ManageRoles    bool `json:"manage_roles"`
	ViewAnalytics  bool `json:"view_analytics"`
	SystemSettings bool `json:"system_settings"`
}

type Permissions struct {
	Models   map[string]ModelPermission `json:"models"`
	Features FeaturePermissions         `json:"features"`
	Admin    AdminPermissions           `json:"admin"`
}

// Role carries the permission map and the three resource ceilings. A
// nil ceiling means unlimited for that dimension.
type Role struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Permissions Permissions `json:"permissions"`

	MaxChats          *int `json:"max_chats,omitempty"`
	MaxTokensPerMonth *int `json:"max_tokens_per_month,omitempty"`
	ContextLength     *int `json:"context_length,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CustomHeader struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Secure bool   `json:"secure"`
}

// Model is an admin-managed LLM endpoint definition.
type Model struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Provider        string         `json:"provider"`
	IntegrationType string         `json:"integration_type"` // easy|custom
	EndpointURL     string         `json:"endpoint_url"`
	AuthProfile     string         `json:"auth_profile"`
	APIKey          string         `json:"api_key"`
	CustomHeaders   []CustomHeader `json:"custom_headers"`
	IsActive        bool           `json:"is_active"`
	Config          map[string]any `json:"config"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModelView redacts the API key for client responses.
type ModelView struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Provider        string         `json:"provider"`
	IntegrationType string         `json:"integration_type"`
	EndpointURL     string         `json:"endpoint_url"`
	AuthProfile     string         `json:"auth_profile"`
	CustomHeaders   []CustomHeader `json:"custom_headers"`
	IsActive        bool           `json:"is_active"`
	Config          map[string]any `json:"config"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (m *Model) View() ModelView {
	headers := make([]CustomHeader, 0, len(m.CustomHeaders))
	for _, h := range m.CustomHeaders {
		if h.Secure {
			h.Value = ""
		}
		headers = append(headers, h)
	}
	return ModelView{
		ID:              m.ID,
		Name:            m.Name,
		Provider:        m.Provider,
		IntegrationType: m.IntegrationType,
		EndpointURL:     m.EndpointURL,
		AuthProfile:     m.AuthProfile,
		CustomHeaders:   headers,
		IsActive:        m.IsActive,
		Config:          m.Config,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
