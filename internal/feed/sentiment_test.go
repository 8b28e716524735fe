package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
)

func pollerFor(url string) *SentimentPoller {
	return NewSentimentPoller(config.FeedConfig{
		SentimentURL:   url,
		RequestTimeout: 2 * time.Second,
	})
}

func TestSentimentPollerDedupesAcrossFetches(t *testing.T) {
	items := []domain.ScoredInput{
		{ID: "n1", Symbol: "AAPL", Score: 85, Direction: domain.DirectionBullish, Timestamp: time.Now()},
		{ID: "n2", Symbol: "MSFT", Score: 40, Direction: domain.DirectionNeutral, Timestamp: time.Now()},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	p := pollerFor(srv.URL)
	ctx := context.Background()

	first, err := p.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// Same payload again: everything already seen.
	second, err := p.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestSentimentPollerDropsInvalidItemsOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]domain.ScoredInput{
			{ID: "good", Symbol: "NVDA", Score: 91, Direction: domain.DirectionBullish, Timestamp: time.Now()},
			{ID: "bad-score", Symbol: "AMD", Score: 140, Direction: domain.DirectionBullish, Timestamp: time.Now()},
			{ID: "bad-dir", Symbol: "TSLA", Score: 50, Direction: "SIDEWAYS", Timestamp: time.Now()},
			{Symbol: "NOID", Score: 60, Direction: domain.DirectionBearish, Timestamp: time.Now()},
		})
	}))
	defer srv.Close()

	out, err := pollerFor(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "NVDA", out[0].Symbol)
}

func TestSentimentPollerFailsWholeFetchOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := pollerFor(srv.URL).Fetch(context.Background())
	assert.Error(t, err)
}

func TestSentimentPollerFailsOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := pollerFor(srv.URL).Fetch(context.Background())
	assert.Error(t, err)
}
