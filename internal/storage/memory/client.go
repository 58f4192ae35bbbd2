package memory

import (
	"context"
	"sync"

	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
)

// maxSOSHistory bounds the in-memory SOS journal; oldest entries are evicted.
const maxSOSHistory = 10000

type rating struct {
	sum   int
	count int
}

// Client: хранилище в памяти процесса (режим по умолчанию и тесты).
type Client struct {
	mu       sync.RWMutex
	reports  []model.Report
	ratings  map[string]rating
	sos      map[string]model.SOSSignal
	sosOrder []string
	subs     map[string]map[string]model.PushSubscription
}

func New() *Client {
	return &Client{
		ratings: make(map[string]rating),
		sos:     make(map[string]model.SOSSignal),
		subs:    make(map[string]map[string]model.PushSubscription),
	}
}

var _ storage.Store = (*Client)(nil)

func (c *Client) Close() error { return nil }

func (c *Client) AppendReport(ctx context.Context, r model.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	if p, ok := storage.RatingOf(r); ok {
		agg := c.ratings[p.PlaceID]
		agg.sum += p.Stars
		agg.count++
		c.ratings[p.PlaceID] = agg
	}
	return nil
}

func (c *Client) Reports(ctx context.Context, kind model.ReportKind, limit int) ([]model.Report, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Report
	for i := len(c.reports) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if kind == "" || c.reports[i].Kind == kind {
			out = append(out, c.reports[i])
		}
	}
	return out, nil
}

func (c *Client) PlaceRating(ctx context.Context, placeID string) (model.PlaceRating, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agg, ok := c.ratings[placeID]
	if !ok || agg.count == 0 {
		return model.PlaceRating{}, storage.ErrNotFound
	}
	return model.PlaceRating{
		PlaceID: placeID,
		Average: float64(agg.sum) / float64(agg.count),
		Count:   agg.count,
	}, nil
}

func (c *Client) SaveSOS(ctx context.Context, s model.SOSSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sos[s.ID]; !ok {
		c.sosOrder = append(c.sosOrder, s.ID)
		if len(c.sosOrder) > maxSOSHistory {
			delete(c.sos, c.sosOrder[0])
			c.sosOrder = c.sosOrder[1:]
		}
	}
	c.sos[s.ID] = s
	return nil
}

func (c *Client) SOSHistory(ctx context.Context, limit int) ([]model.SOSSignal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.SOSSignal
	for i := len(c.sosOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.sos[c.sosOrder[i]])
	}
	return out, nil
}

func (c *Client) AddPushSubscription(ctx context.Context, subjectID string, sub model.PushSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[subjectID] == nil {
		c.subs[subjectID] = make(map[string]model.PushSubscription)
	}
	c.subs[subjectID][sub.Endpoint] = sub
	return nil
}

func (c *Client) PushSubscriptions(ctx context.Context, subjectID string) ([]model.PushSubscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.PushSubscription, 0, len(c.subs[subjectID]))
	for _, s := range c.subs[subjectID] {
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, subjectID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs[subjectID], endpoint)
	if len(c.subs[subjectID]) == 0 {
		delete(c.subs, subjectID)
	}
	return nil
}
