package model

// NotificationMessage 通知投递消息，由 scheduler 发布、worker 消费
type NotificationMessage struct {
	MessageID  string            `json:"message_id"`
	SwitchID   string            `json:"switch_id"`
	OwnerID    string            `json:"owner_id"`
	Level      int               `json:"level"`
	Category   string            `json:"category"`
	Template   string            `json:"template"`
	Recipients []Recipient       `json:"recipients"`
	Payload    map[string]string `json:"payload"`
	CreatedAt  string            `json:"created_at"`
}
