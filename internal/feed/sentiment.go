package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
)

// Source yields scored inputs not seen before.
type Source interface {
	Fetch(ctx context.Context) ([]domain.ScoredInput, error)
}

// seen-set cap; the snapshot's SeenInputIDs is the durable dedupe record,
// this one just avoids re-emitting within a process lifetime.
const maxSeenIDs = 10000

// SentimentPoller pulls scored sentiment items from an HTTP endpoint.
// Malformed items are dropped one at a time; a transport or decode failure
// fails the whole fetch and the tick moves on without inputs.
type SentimentPoller struct {
	url  string
	http *http.Client

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSentimentPoller(cfg config.FeedConfig) *SentimentPoller {
	return &SentimentPoller{
		url:  cfg.SentimentURL,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		seen: make(map[string]struct{}),
	}
}

func (p *SentimentPoller) Fetch(ctx context.Context) ([]domain.ScoredInput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment fetch: status %d", resp.StatusCode)
	}

	var items []domain.ScoredInput
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("sentiment fetch: decode: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.seen) > maxSeenIDs {
		p.seen = make(map[string]struct{})
	}

	fresh := make([]domain.ScoredInput, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			log.Warn().Str("symbol", item.Symbol).Msg("dropping sentiment item without id")
			continue
		}
		if _, dup := p.seen[item.ID]; dup {
			continue
		}
		if err := item.Validate(); err != nil {
			log.Warn().Err(err).Str("input_id", item.ID).Msg("dropping invalid sentiment item")
			p.seen[item.ID] = struct{}{}
			continue
		}
		p.seen[item.ID] = struct{}{}
		fresh = append(fresh, item)
	}

	if len(fresh) > 0 {
		log.Debug().Int("received", len(items)).Int("fresh", len(fresh)).Msg("sentiment items fetched")
	}
	return fresh, nil
}
