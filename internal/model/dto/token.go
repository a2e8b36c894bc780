package dto

import (
	"time"

	"LegacyVault/internal/model"
)

type GenerateTokenRequest struct {
	ContactID          string             `json:"contact_id"`
	SwitchID           string             `json:"switch_id,omitempty"`
	AccessLevel        model.AccessLevel  `json:"access_level"`
	Permissions        []model.Permission `json:"permissions,omitempty"`
	FileIDs            []string           `json:"file_ids,omitempty"`
	TokenType          model.TokenType    `json:"token_type"`
	ExpirationHours    int                `json:"expiration_hours"`
	MaxUses            int                `json:"max_uses"`
	Refreshable        bool               `json:"refreshable"`
	IPRestrictions     []string           `json:"ip_restrictions,omitempty"`
	RequiresActivation bool               `json:"requires_activation"`
}

type GenerateTokenData struct {
	TokenID   string    `json:"token_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateTokenRequest 未传的检查项默认开启
type ValidateTokenRequest struct {
	Token               string `json:"token"`
	CheckExpiration     *bool  `json:"check_expiration,omitempty"`
	CheckUses           *bool  `json:"check_uses,omitempty"`
	CheckIPRestrictions *bool  `json:"check_ip_restrictions,omitempty"`
}

type ValidateTokenData struct {
	TokenID       string             `json:"token_id"`
	ContactID     string             `json:"contact_id"`
	AccessLevel   model.AccessLevel  `json:"access_level"`
	Permissions   []model.Permission `json:"permissions"`
	FileIDs       []string           `json:"file_ids,omitempty"`
	RemainingUses int                `json:"remaining_uses"`
	ExpiresAt     time.Time          `json:"expires_at"`
}

type RecordUsageRequest struct {
	Token      string `json:"token"`
	ResourceID string `json:"resource_id,omitempty"`
}

type RecordUsageData struct {
	RemainingUses int `json:"remaining_uses"`
}

type RevokeTokenRequest struct {
	Reason string `json:"reason"`
}

type RefreshTokenRequest struct {
	ExpirationHours int `json:"expiration_hours"`
}
