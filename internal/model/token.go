package model

import "time"

// AccessLevel 访问级别
type AccessLevel string

const (
	AccessLevelView     AccessLevel = "view"
	AccessLevelDownload AccessLevel = "download"
	AccessLevelFull     AccessLevel = "full"
)

func (l AccessLevel) Valid() bool {
	return l == AccessLevelView || l == AccessLevelDownload || l == AccessLevelFull
}

// Permission 令牌可执行的操作
type Permission string

const (
	PermissionView     Permission = "view"
	PermissionDownload Permission = "download"
	PermissionPrint    Permission = "print"
	PermissionShare    Permission = "share"
)

// AllowedPermissions 每个访问级别可授予的权限上限
func (l AccessLevel) AllowedPermissions() []Permission {
	switch l {
	case AccessLevelView:
		return []Permission{PermissionView}
	case AccessLevelDownload:
		return []Permission{PermissionView, PermissionDownload, PermissionPrint}
	case AccessLevelFull:
		return []Permission{PermissionView, PermissionDownload, PermissionPrint, PermissionShare}
	default:
		return nil
	}
}

// TokenType 令牌类型
type TokenType string

const (
	TokenTypeEmergency TokenType = "emergency"
	TokenTypeTemporary TokenType = "temporary"
)

func (t TokenType) Valid() bool {
	return t == TokenTypeEmergency || t == TokenTypeTemporary
}

// EmergencyAccessToken 受益人紧急访问令牌，归签发者所有，只作用于一个联系人
type EmergencyAccessToken struct {
	BaseModel
	ID                 string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID            string      `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	ContactID          string      `gorm:"type:varchar(64);not null;index" json:"contact_id"`
	SwitchID           string      `gorm:"type:varchar(32);not null;default:'';index" json:"switch_id,omitempty"`
	TokenType          TokenType   `gorm:"type:varchar(16);not null" json:"token_type"`
	AccessLevel        AccessLevel `gorm:"type:varchar(16);not null" json:"access_level"`
	Permissions        StringList  `gorm:"type:jsonb;not null;default:'[]'" json:"permissions"`
	FileIDs            StringList  `gorm:"type:jsonb;not null;default:'[]'" json:"file_ids,omitempty"`
	MaxUses            int         `gorm:"not null" json:"max_uses"`
	CurrentUses        int         `gorm:"not null;default:0" json:"current_uses"`
	ExpiresAt          time.Time   `gorm:"type:timestamptz;not null" json:"expires_at"`
	IPRestrictions     StringList  `gorm:"type:jsonb;not null;default:'[]'" json:"ip_restrictions,omitempty"`
	Refreshable        bool        `gorm:"not null;default:false" json:"refreshable"`
	RequiresActivation bool        `gorm:"not null;default:false" json:"requires_activation"`
	ActivatedAt        *time.Time  `gorm:"type:timestamptz" json:"activated_at,omitempty"`
	RevokedAt          *time.Time  `gorm:"type:timestamptz" json:"revoked_at,omitempty"`
	RevokeReason       string      `gorm:"type:varchar(255);not null;default:''" json:"revoke_reason,omitempty"`
}

// TableName 指定表名
func (EmergencyAccessToken) TableName() string {
	return "emergency_access_tokens"
}

func (t *EmergencyAccessToken) RemainingUses() int {
	if t.CurrentUses >= t.MaxUses {
		return 0
	}
	return t.MaxUses - t.CurrentUses
}

func (t *EmergencyAccessToken) Revoked() bool {
	return t.RevokedAt != nil
}

func (t *EmergencyAccessToken) Active() bool {
	return !t.RequiresActivation || t.ActivatedAt != nil
}

// AccessAction 访问日志动作
type AccessAction string

const (
	AccessActionValidate AccessAction = "validate"
	AccessActionUse      AccessAction = "use"
	AccessActionRevoke   AccessAction = "revoke"
	AccessActionRefresh  AccessAction = "refresh"
	AccessActionActivate AccessAction = "activate"
)

// AccessOutcome 内部记录的具体结果，对外只返回错误分类
type AccessOutcome string

const (
	AccessOutcomeOK          AccessOutcome = "ok"
	AccessOutcomeRateLimited AccessOutcome = "rate_limited"
	AccessOutcomeMalformed   AccessOutcome = "malformed"
	AccessOutcomeBadSig      AccessOutcome = "bad_signature"
	AccessOutcomeUnknown     AccessOutcome = "unknown_token"
	AccessOutcomeRevoked     AccessOutcome = "revoked"
	AccessOutcomeInactive    AccessOutcome = "not_activated"
	AccessOutcomeExpired     AccessOutcome = "expired"
	AccessOutcomeExhausted   AccessOutcome = "exhausted"
	AccessOutcomeIPDenied    AccessOutcome = "ip_denied"
	AccessOutcomeFileDenied  AccessOutcome = "file_denied"
)

// AccessLogEntry 每一次校验或使用都会追加一条
type AccessLogEntry struct {
	ID         int64         `gorm:"primaryKey" json:"id"`
	TokenID    string        `gorm:"type:varchar(36);not null;default:'';index" json:"token_id"`
	ContactID  string        `gorm:"type:varchar(64);not null;default:''" json:"contact_id"`
	OwnerID    string        `gorm:"type:varchar(64);not null;default:'';index" json:"owner_id"`
	Action     AccessAction  `gorm:"type:varchar(16);not null" json:"action"`
	Success    bool          `gorm:"not null" json:"success"`
	Outcome    AccessOutcome `gorm:"type:varchar(32);not null" json:"outcome"`
	IPHash     string        `gorm:"type:char(64);not null;default:'';index" json:"ip_hash"`
	UserAgent  string        `gorm:"type:varchar(255);not null;default:''" json:"user_agent,omitempty"`
	ResourceID string        `gorm:"type:varchar(64);not null;default:''" json:"resource_id,omitempty"`
	OccurredAt time.Time     `gorm:"type:timestamptz;not null;index" json:"occurred_at"`
}

// TableName 指定表名
func (AccessLogEntry) TableName() string {
	return "token_access_logs"
}
