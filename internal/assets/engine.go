// Package assets turns host-authored transcript content into a stable set of
// shareable blocks and resolves share triggers to broadcast payloads.
package assets

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noor-live/backend/internal/dispatch"
	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/pkg/errs"
)

// Publisher is the dispatcher slice the engine needs.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

type scanResult struct {
	assets []models.ShareableAsset
	index  map[string]int // shareID -> position in assets
}

// Engine holds each session's latest scan and serializes share broadcasts per
// asset. The dedup map is owned here, never ambient global state.
type Engine struct {
	locker ShareLocker
	pub    Publisher
	logger *zap.Logger

	mu    sync.RWMutex
	scans map[uuid.UUID]*scanResult
}

// NewEngine creates an asset engine.
func NewEngine(locker ShareLocker, pub Publisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		locker: locker,
		pub:    pub,
		logger: logger,
		scans:  make(map[uuid.UUID]*scanResult),
	}
}

// Scan detects shareable blocks in content and replaces the session's asset
// set with the result. Returns the content with detected blocks tagged by
// share id for O(1) downstream lookup.
func (e *Engine) Scan(sessionID uuid.UUID, html string) (string, []models.ShareableAsset, error) {
	tagged, found, err := scanContent(html)
	if err != nil {
		return "", nil, err
	}

	res := &scanResult{assets: found, index: make(map[string]int, len(found))}
	for i, a := range found {
		res.index[a.ShareID] = i
	}

	e.mu.Lock()
	e.scans[sessionID] = res
	e.mu.Unlock()

	e.logger.Info("content scanned",
		zap.String("session_id", sessionID.String()),
		zap.Int("assets", len(found)))
	return tagged, found, nil
}

// Resolve returns the payload for a share id from the session's most recent
// scan. Malformed ids and ids the last scan did not produce both fail the
// same way: the asset is not there to share.
func (e *Engine) Resolve(sessionID uuid.UUID, shareID string) (models.ShareableAsset, error) {
	if !wellFormedShareID(shareID) {
		return models.ShareableAsset{}, fmt.Errorf("share id %q: %w", shareID, errs.ErrAssetNotFound)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	res := e.scans[sessionID]
	if res == nil {
		return models.ShareableAsset{}, fmt.Errorf("no scan for session: %w", errs.ErrAssetNotFound)
	}
	i, ok := res.index[shareID]
	if !ok {
		return models.ShareableAsset{}, fmt.Errorf("share id %q: %w", shareID, errs.ErrAssetNotFound)
	}
	return res.assets[i], nil
}

// Share resolves a share id and broadcasts its payload, holding the asset's
// in-flight lock for the duration. A second trigger while the first is in
// flight gets ErrShareInProgress and is expected to retry.
func (e *Engine) Share(ctx context.Context, sessionID uuid.UUID, shareID string) (models.ShareableAsset, error) {
	asset, err := e.Resolve(sessionID, shareID)
	if err != nil {
		return models.ShareableAsset{}, err
	}

	key := shareKey(sessionID, shareID)
	ok, err := e.locker.TryAcquire(ctx, key)
	if err != nil {
		return models.ShareableAsset{}, fmt.Errorf("acquire share lock: %w", err)
	}
	if !ok {
		return models.ShareableAsset{}, fmt.Errorf("share id %q: %w", shareID, errs.ErrShareInProgress)
	}
	defer e.locker.Release(ctx, key)

	e.pub.Publish(sessionID, dispatch.EventAssetShared, map[string]interface{}{
		"share_id":   asset.ShareID,
		"asset_type": asset.Type,
		"payload":    asset.Payload,
	})
	e.logger.Info("asset shared",
		zap.String("session_id", sessionID.String()),
		zap.String("share_id", shareID))
	return asset, nil
}

// List returns the session's current asset set in scan order, without
// payloads.
func (e *Engine) List(sessionID uuid.UUID) []models.ShareableAsset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res := e.scans[sessionID]
	if res == nil {
		return nil
	}
	out := make([]models.ShareableAsset, len(res.assets))
	for i, a := range res.assets {
		a.Payload = ""
		out[i] = a
	}
	return out
}

// Drop discards a session's scan state.
func (e *Engine) Drop(sessionID uuid.UUID) {
	e.mu.Lock()
	delete(e.scans, sessionID)
	e.mu.Unlock()
}

func shareKey(sessionID uuid.UUID, shareID string) string {
	return "share:" + sessionID.String() + ":" + shareID
}
