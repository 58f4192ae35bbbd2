package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
)

// Ключи:
//
//	reports, reports:{kind} : списки JSON заявлений, новые слева
//	rating:{place_id}       : hash {sum, count}
//	sos                     : hash sos_id -> JSON сигнала
//	sos:order               : zset sos_id по created_at
//	push:{subject_id}       : hash endpoint -> JSON подписки
const (
	keyReports  = "reports"
	keySOS      = "sos"
	keySOSOrder = "sos:order"
)

func reportsKey(kind model.ReportKind) string {
	if kind == "" {
		return keyReports
	}
	return keyReports + ":" + string(kind)
}

func ratingKey(placeID string) string { return "rating:" + placeID }

func pushKey(subjectID string) string { return "push:" + subjectID }

// historyRange maps a limit to an inclusive LRANGE/ZREVRANGE stop; <= 0 means all.
func historyRange(limit int) int64 {
	if limit > 0 {
		return int64(limit - 1)
	}
	return -1
}

type Client struct {
	cli *redis.Client
}

var _ storage.Store = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) AppendReport(ctx context.Context, r model.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis marshal report: %w", err)
	}
	_, err = c.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, reportsKey(""), data)
		p.LPush(ctx, reportsKey(r.Kind), data)
		if rt, ok := storage.RatingOf(r); ok {
			key := ratingKey(rt.PlaceID)
			p.HIncrBy(ctx, key, "sum", int64(rt.Stars))
			p.HIncrBy(ctx, key, "count", 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append report: %w", err)
	}
	return nil
}

func (c *Client) Reports(ctx context.Context, kind model.ReportKind, limit int) ([]model.Report, error) {
	raw, err := c.cli.LRange(ctx, reportsKey(kind), 0, historyRange(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis reports: %w", err)
	}
	out := make([]model.Report, 0, len(raw))
	for _, s := range raw {
		var r model.Report
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("redis decode report: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) PlaceRating(ctx context.Context, placeID string) (model.PlaceRating, error) {
	vals, err := c.cli.HGetAll(ctx, ratingKey(placeID)).Result()
	if err != nil {
		return model.PlaceRating{}, fmt.Errorf("redis rating: %w", err)
	}
	count, _ := strconv.Atoi(vals["count"])
	if count == 0 {
		return model.PlaceRating{}, storage.ErrNotFound
	}
	sum, _ := strconv.Atoi(vals["sum"])
	return model.PlaceRating{PlaceID: placeID, Average: float64(sum) / float64(count), Count: count}, nil
}

func (c *Client) SaveSOS(ctx context.Context, s model.SOSSignal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis marshal sos: %w", err)
	}
	_, err = c.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, keySOS, s.ID, data)
		p.ZAddNX(ctx, keySOSOrder, redis.Z{Score: float64(s.CreatedAt.UnixMilli()), Member: s.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save sos %s: %w", s.ID, err)
	}
	return nil
}

func (c *Client) SOSHistory(ctx context.Context, limit int) ([]model.SOSSignal, error) {
	ids, err := c.cli.ZRevRange(ctx, keySOSOrder, 0, historyRange(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sos order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := c.cli.HMGet(ctx, keySOS, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sos history: %w", err)
	}
	out := make([]model.SOSSignal, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var s model.SOSSignal
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			return nil, fmt.Errorf("redis decode sos: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) AddPushSubscription(ctx context.Context, subjectID string, sub model.PushSubscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("redis marshal subscription: %w", err)
	}
	return c.cli.HSet(ctx, pushKey(subjectID), sub.Endpoint, data).Err()
}

func (c *Client) PushSubscriptions(ctx context.Context, subjectID string) ([]model.PushSubscription, error) {
	vals, err := c.cli.HVals(ctx, pushKey(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis subscriptions: %w", err)
	}
	out := make([]model.PushSubscription, 0, len(vals))
	for _, v := range vals {
		var sub model.PushSubscription
		if err := json.Unmarshal([]byte(v), &sub); err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, subjectID, endpoint string) error {
	return c.cli.HDel(ctx, pushKey(subjectID), endpoint).Err()
}
