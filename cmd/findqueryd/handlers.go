package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/findcore/findcore/internal/ipc"
	"github.com/findcore/findcore/internal/learning"
	"github.com/findcore/findcore/internal/ranking"
	"github.com/findcore/findcore/internal/storage"
)

// answerSnippetMaxChars caps the extracted-text window forwarded for an
// answer snippet, per spec.md §4.4's "small character cap".
const answerSnippetMaxChars = 400

// registerHandlers wires the query worker's RPC surface onto base's server:
// the search entry point the GUI shell calls per keystroke, the interaction
// and behavior-event intake the learning engine consumes, manual training
// triggers, the answer-snippet sub-flow, and the probe the health
// aggregator polls.
func registerHandlers(base *ipc.ServiceBase, pipeline *ranking.Pipeline, engine *learning.Engine, answers *ranking.AnswerLedger, extractor *ipc.Client, logger *zap.Logger) {
	base.Server.Handle("search", func(ctx context.Context, params map[string]any) (map[string]any, *ipc.RPCError) {
		query, _ := params["query"].(string)
		if query == "" {
			return nil, &ipc.RPCError{Code: ipc.CodeInvalidParams, Message: "query is required"}
		}
		qctx := parseQueryContext(params)

		result, err := pipeline.Query(ctx, query, qctx, time.Now())
		if err != nil {
			logger.Warn("query pipeline failed", zap.Error(err), zap.String("query", query))
			return nil, &ipc.RPCError{Code: ipc.CodeInternalError, Message: "query failed"}
		}

		hits := make([]map[string]any, 0, len(result.Candidates))
		for rank, c := range result.Candidates {
			hits = append(hits, map[string]any{
				"itemId":    c.ItemID,
				"path":      c.Path,
				"name":      c.Name,
				"kind":      c.Kind,
				"isPinned":  c.IsPinned,
				"matchType": c.MatchType.String(),
				"score":     c.Score,
				"rank":      rank,
			})
		}
		return map[string]any{
			"queryClass":  result.Router.QueryClass.String(),
			"queryDomain": result.Router.QueryDomain.String(),
			"results":     hits,
		}, nil
	})

	base.Server.Handle("recordInteraction", func(_ context.Context, params map[string]any) (map[string]any, *ipc.RPCError) {
		query, _ := params["query"].(string)
		itemID, _ := params["itemId"].(float64)
		path, _ := params["path"].(string)
		appBundleID, _ := params["appBundleId"].(string)
		contextEventID, _ := params["contextEventId"].(string)
		activityDigest, _ := params["activityDigest"].(string)
		atMs, ok := params["atMs"].(float64)
		if !ok {
			atMs = float64(time.Now().UnixMilli())
		}

		if err := engine.RecordPositiveInteraction(query, int64(itemID), path, appBundleID, contextEventID, activityDigest, int64(atMs)); err != nil {
			logger.Warn("record interaction failed", zap.Error(err))
			return nil, &ipc.RPCError{Code: ipc.CodeInternalError, Message: "record interaction failed"}
		}
		return map[string]any{"recorded": true}, nil
	})

	base.Server.Handle("recordBehaviorEvent", func(_ context.Context, params map[string]any) (map[string]any, *ipc.RPCError) {
		ev := parseBehaviorEvent(params)
		if err := engine.RecordBehaviorEvent(ev); err != nil {
			logger.Warn("record behavior event failed", zap.Error(err))
			return nil, &ipc.RPCError{Code: ipc.CodeInternalError, Message: "record behavior event failed"}
		}
		return map[string]any{"recorded": true}, nil
	})

	base.Server.Handle("noteUserActivity", func(_ context.Context, _ map[string]any) (map[string]any, *ipc.RPCError) {
		engine.NoteUserActivity()
		return map[string]any{"ok": true}, nil
	})

	base.Server.Handle("triggerLearningCycle", func(_ context.Context, _ map[string]any) (map[string]any, *ipc.RPCError) {
		ran, reason, err := engine.TriggerLearningCycle(true)
		if err != nil {
			return nil, &ipc.RPCError{Code: ipc.CodeInternalError, Message: "training cycle failed"}
		}
		return map[string]any{"ran": ran, "reason": reason}, nil
	})

	base.Server.Handle("getQueryHealth", func(_ context.Context, _ map[string]any) (map[string]any, *ipc.RPCError) {
		return map[string]any{
			"modelAvailable": engine.ModelAvailable(),
			"modelVersion":   engine.ModelVersion(),
			"learning":       engine.HealthSnapshot(),
		}, nil
	})

	base.Server.Handle("requestAnswerSnippet", func(_ context.Context, params map[string]any) (map[string]any, *ipc.RPCError) {
		requestID, _ := params["requestId"].(string)
		query, _ := params["query"].(string)
		path, _ := params["path"].(string)
		itemID, _ := params["itemId"].(float64)
		if requestID == "" || path == "" {
			return nil, &ipc.RPCError{Code: ipc.CodeInvalidParams, Message: "requestId and path are required"}
		}

		req := answers.Begin(requestID, query, int64(itemID), path)
		go resolveAnswerSnippet(extractor, answers, req, logger)

		return map[string]any{"requestId": requestID, "status": string(req.Status)}, nil
	})

	base.Server.Handle("getAnswerStatus", func(_ context.Context, params map[string]any) (map[string]any, *ipc.RPCError) {
		requestID, _ := params["requestId"].(string)
		if requestID == "" {
			return nil, &ipc.RPCError{Code: ipc.CodeInvalidParams, Message: "requestId is required"}
		}
		req := answers.Get(requestID)
		if req == nil {
			return nil, &ipc.RPCError{Code: ipc.CodeNotFound, Message: "unknown requestId"}
		}
		return map[string]any{
			"requestId": req.RequestID,
			"status":    string(req.Status),
			"snippet":   req.Snippet,
			"error":     req.Err,
		}, nil
	})
}

// resolveAnswerSnippet asks the extractor worker for a short passage out of
// req.Path and resolves the ledger entry, run off the request goroutine so
// requestAnswerSnippet can return "loading" immediately per spec.md §4.4's
// idle->loading->ready|no_answer|error flow.
func resolveAnswerSnippet(extractor *ipc.Client, answers *ranking.AnswerLedger, req *ranking.AnswerRequest, logger *zap.Logger) {
	result, ok := extractor.SendRequest("extractSnippet", map[string]any{
		"path":     req.Path,
		"query":    req.Query,
		"maxChars": answerSnippetMaxChars,
	}, 2000)
	if !ok {
		answers.Resolve(req.RequestID, ranking.AnswerError, "", "extractor unavailable")
		return
	}

	snippet, _ := result["snippet"].(string)
	if snippet == "" {
		answers.Resolve(req.RequestID, ranking.AnswerNoAnswer, "", "")
		return
	}
	if len(snippet) > answerSnippetMaxChars {
		snippet = snippet[:answerSnippetMaxChars]
	}

	logger.Debug("answer snippet resolved", zap.String("requestId", req.RequestID), zap.String("path", req.Path))
	answers.Resolve(req.RequestID, ranking.AnswerReady, snippet, "")
}

func parseQueryContext(params map[string]any) ranking.QueryContext {
	str := func(key string) string {
		v, _ := params[key].(string)
		return v
	}
	featureVersion := 0
	if v, ok := params["contextFeatureVersion"].(float64); ok {
		featureVersion = int(v)
	}
	digest := str("activityDigest")
	if digest == "" && str("contextEventId") != "" {
		// Controllers that predate the digest field still get the digest
		// attribution tier, derived from the signals they do send.
		digest = learning.ActivityDigest(str("frontmostAppBundleId"), str("contextEventId"))
	}
	return ranking.QueryContext{
		ContextEventID:        str("contextEventId"),
		ActivityDigest:        digest,
		FrontmostAppBundleID:  str("frontmostAppBundleId"),
		ClipboardBasename:     str("clipboardBasename"),
		ClipboardDirname:      str("clipboardDirname"),
		ClipboardExtension:    str("clipboardExtension"),
		ContextFeatureVersion: featureVersion,
		CWDPath:               str("cwdPath"),
	}
}

func parseBehaviorEvent(params map[string]any) *storage.BehaviorEvent {
	str := func(key string) string {
		v, _ := params[key].(string)
		return v
	}
	strPtr := func(key string) *string {
		v, ok := params[key].(string)
		if !ok || v == "" {
			return nil
		}
		return &v
	}
	intOf := func(key string) int {
		v, _ := params[key].(float64)
		return int(v)
	}
	i64Of := func(key string) int64 {
		v, _ := params[key].(float64)
		return int64(v)
	}
	boolOf := func(key string) bool {
		v, _ := params[key].(bool)
		return v
	}
	floatOf := func(key string) float64 {
		v, _ := params[key].(float64)
		return v
	}
	var itemID *int64
	if v, ok := params["itemId"].(float64); ok {
		id := int64(v)
		itemID = &id
	}

	now := time.Now().UnixMilli()
	ts := i64Of("timestampMs")
	if ts == 0 {
		ts = now
	}

	digest := strPtr("activityDigest")
	if digest == nil && str("contextEventId") != "" {
		if derived := learning.ActivityDigest(str("appBundleId"), str("contextEventId")); derived != "" {
			digest = &derived
		}
	}

	return &storage.BehaviorEvent{
		EventID:         str("eventId"),
		TimestampMs:     ts,
		Source:          str("source"),
		EventType:       str("eventType"),
		AppBundleID:     strPtr("appBundleId"),
		WindowTitleHash: strPtr("windowTitleHash"),
		BrowserHostHash: strPtr("browserHostHash"),
		ItemPath:        strPtr("itemPath"),
		ItemID:          itemID,
		KeyEventCount:   intOf("keyEventCount"),
		ShortcutCount:   intOf("shortcutCount"),
		ScrollCount:     intOf("scrollCount"),
		MetadataOnly:    boolOf("metadataOnly"),
		MoveDistancePx:  floatOf("moveDistancePx"),
		ClickCount:      intOf("clickCount"),
		DragCount:       intOf("dragCount"),
		SecureInput:     boolOf("secureInput"),
		PrivateContext:  boolOf("privateContext"),
		DenylistedApp:   boolOf("denylistedApp"),
		Redacted:        boolOf("redacted"),
		ContextEventID:  strPtr("contextEventId"),
		ActivityDigest:  digest,
		CreatedAt:       now,
	}
}
