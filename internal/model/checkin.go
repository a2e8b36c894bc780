package model

import "time"

// CheckInMethod 签到方式
type CheckInMethod string

const (
	CheckInMethodAppLogin      CheckInMethod = "app_login"
	CheckInMethodEmailResponse CheckInMethod = "email_response"
	CheckInMethodSMSResponse   CheckInMethod = "sms_response"
	CheckInMethodPhoneCall     CheckInMethod = "phone_call"
	CheckInMethodWebCheckIn    CheckInMethod = "web_checkin"
	CheckInMethodBiometric     CheckInMethod = "biometric"
	CheckInMethodAPIToken      CheckInMethod = "api_token"
	CheckInMethodManualTrigger CheckInMethod = "manual_trigger"
)

func (m CheckInMethod) Valid() bool {
	switch m {
	case CheckInMethodAppLogin, CheckInMethodEmailResponse, CheckInMethodSMSResponse,
		CheckInMethodPhoneCall, CheckInMethodWebCheckIn, CheckInMethodBiometric,
		CheckInMethodAPIToken, CheckInMethodManualTrigger:
		return true
	}
	return false
}

// CheckInMetadata 签到附带信息，Extra 用于渠道特有字段
type CheckInMetadata struct {
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	Location  string            `json:"location,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// CheckIn 签到输入，只体现在审计记录中
type CheckIn struct {
	SwitchID  string          `json:"switch_id"`
	UserID    string          `json:"user_id"`
	Method    CheckInMethod   `json:"method"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  CheckInMetadata `json:"metadata"`
}
