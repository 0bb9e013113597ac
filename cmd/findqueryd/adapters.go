package main

import (
	"context"
	"fmt"

	"github.com/findcore/findcore/internal/ipc"
	"github.com/findcore/findcore/internal/ranking"
	"github.com/findcore/findcore/internal/storage"
)

const retrieverRequestTimeoutMs = 1500

// lexicalClient adapts an IPC connection to the indexer worker's full-text
// search RPC into ranking.LexicalRetriever, keeping the ranking package free
// of any transport dependency.
type lexicalClient struct {
	client *ipc.Client
}

func (l lexicalClient) Search(_ context.Context, query string, limit int) ([]ranking.LexicalHit, error) {
	res, ok := l.client.SendRequest("search", map[string]any{
		"query": query,
		"limit": limit,
	}, retrieverRequestTimeoutMs)
	if !ok {
		return nil, fmt.Errorf("findqueryd: indexer search request failed or timed out")
	}
	return parseLexicalHits(res["hits"])
}

func parseLexicalHits(raw any) ([]ranking.LexicalHit, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	hits := make([]ranking.LexicalHit, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		itemID, _ := m["itemId"].(float64)
		score, _ := m["bm25"].(float64)
		hits = append(hits, ranking.LexicalHit{ItemID: int64(itemID), BM25RawScore: score})
	}
	return hits, nil
}

// semanticClient adapts an IPC connection to the inference worker's
// nearest-neighbor RPC into ranking.SemanticRetriever.
type semanticClient struct {
	client *ipc.Client
}

func (s semanticClient) NearestNeighbors(_ context.Context, query string, limit int) ([]ranking.SemanticHit, error) {
	res, ok := s.client.SendRequest("nearestNeighbors", map[string]any{
		"query": query,
		"limit": limit,
	}, retrieverRequestTimeoutMs)
	if !ok {
		return nil, fmt.Errorf("findqueryd: inference nearestNeighbors request failed or timed out")
	}
	return parseSemanticHits(res["hits"])
}

func parseSemanticHits(raw any) ([]ranking.SemanticHit, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	hits := make([]ranking.SemanticHit, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		itemID, _ := m["itemId"].(float64)
		score, _ := m["score"].(float64)
		hits = append(hits, ranking.SemanticHit{ItemID: int64(itemID), SemanticNormalized: score})
	}
	return hits, nil
}

// storageItemLookup adapts the SQLite items table into ranking.ItemLookup,
// joining in open-interaction stats for the scorer's frequency signal.
type storageItemLookup struct {
	db *storage.DB
}

func (s storageItemLookup) Lookup(_ context.Context, itemID int64) (ranking.ItemFacts, bool, error) {
	item, err := s.db.GetItem(itemID)
	if err != nil {
		return ranking.ItemFacts{}, false, fmt.Errorf("findqueryd: lookup item %d: %w", itemID, err)
	}
	if item == nil {
		return ranking.ItemFacts{}, false, nil
	}

	stats, err := s.db.GetOpenStats(itemID)
	if err != nil {
		return ranking.ItemFacts{}, false, fmt.Errorf("findqueryd: open stats for item %d: %w", itemID, err)
	}

	return ranking.ItemFacts{
		Path:            item.Path,
		Name:            item.Name,
		Kind:            string(item.Kind),
		IsPinned:        item.IsPinned,
		ModifiedAtEpoch: float64(item.ModifiedAt),
		OpenCount:       stats.OpenCount,
		LastOpenEpoch:   float64(stats.LastOpenedAt),
	}, true, nil
}
