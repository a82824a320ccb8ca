package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"snapsafe/internal/model"
	"snapsafe/internal/service/redis"
	"snapsafe/internal/utils/log"
	"time"

	"go.uber.org/zap"
)

const seqKey = "mailboxes:seq"

// Mailbox is a per-recipient envelope queue kept in a Redis list. Each
// Append is a single RPUSH and DrainAll is one MULTI/EXEC, so both are
// atomic with respect to each other for the same recipient.
type Mailbox struct {
	redisService *redis.RedisService
	now          func() time.Time
}

func NewMailbox(redisSvc *redis.RedisService) *Mailbox {
	return &Mailbox{
		redisService: redisSvc,
		now:          time.Now,
	}
}

func recipientKey(recipientID string) string {
	return fmt.Sprintf("mailbox:%s", recipientID)
}

func (m *Mailbox) Append(ctx context.Context, e *model.Envelope) error {
	seq, err := m.redisService.Incr(ctx, seqKey)
	if err != nil {
		return fmt.Errorf("assign sequence: %w", err)
	}

	data, err := json.Marshal(model.NewMailboxRow(e, seq, m.now()))
	if err != nil {
		return err
	}

	if err := m.redisService.RPush(ctx, recipientKey(e.RecipientID), data); err != nil {
		return fmt.Errorf("append to mailbox %s: %w", e.RecipientID, err)
	}
	return nil
}

// DrainAll returns every pending envelope for recipientID in insertion order
// and removes them. An empty mailbox yields an empty slice.
func (m *Mailbox) DrainAll(ctx context.Context, recipientID string) ([]*model.Envelope, error) {
	vals, err := m.redisService.Drain(ctx, recipientKey(recipientID))
	if err != nil {
		return nil, fmt.Errorf("drain mailbox %s: %w", recipientID, err)
	}

	res := make([]*model.Envelope, 0, len(vals))
	for _, v := range vals {
		var row model.MailboxRow
		if err := json.Unmarshal([]byte(v), &row); err != nil {
			// The rows are already deleted; a corrupt one cannot be redelivered.
			log.Error("drop corrupt mailbox row", zap.String("recipient", recipientID), zap.Error(err))
			continue
		}
		res = append(res, row.Envelope())
	}

	return res, nil
}
