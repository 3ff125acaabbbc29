package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Notification is one status-change message for an account. Delivery is
// best-effort everywhere: a failed dispatch is logged and dropped, never
// surfaced to the mutation that caused it.
type Notification struct {
	AccountID  int64     `json:"account_id"`
	IssueID    int64     `json:"issue_id"`
	RepairType string    `json:"repair_type"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	At         time.Time `json:"at"`
}

// Dispatcher pushes a notification to wherever the account's devices listen.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogDispatcher writes notifications to the log. Used as the fallback when
// no Redis is configured, mirroring the web fallback of the original client.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	logrus.WithFields(logrus.Fields{
		"account_id": n.AccountID,
		"issue_id":   n.IssueID,
		"title":      n.Title,
	}).Info(n.Body)
	return nil
}

// RedisDispatcher publishes notifications on a per-account pub/sub channel.
type RedisDispatcher struct {
	rdb *redis.Client
}

func NewRedisDispatcher(rdb *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{rdb: rdb}
}

// Channel returns the pub/sub channel name for an account.
func Channel(accountID int64) string {
	return fmt.Sprintf("garage:notify:%d", accountID)
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.rdb.Publish(ctx, Channel(n.AccountID), payload).Err()
}
