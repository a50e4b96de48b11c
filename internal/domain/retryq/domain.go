package retryq

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

const (
	DefaultMaxRetries = 5
	BaseDelay         = 60 * time.Second
)

// Entry is one transient transport failure awaiting redelivery. retry_count
// never exceeds max_retries; an entry that hits the cap is a dead letter.
type Entry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	DeviceID    int64     `json:"device_id"`
	Token       string    `json:"token"`
	Sandbox     bool      `json:"sandbox"`
	Payload     []byte    `json:"payload"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	LastError   string    `json:"last_error"`
	NextRetryAt time.Time `json:"next_retry_at"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NextDelay doubles the base delay per completed attempt:
// 60s, 120s, 240s, 480s, 960s.
func NextDelay(retryCount int) time.Duration {
	d := BaseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	return d
}
