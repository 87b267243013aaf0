package reply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/lgesuellip/barber-booker/internal/store"
	"github.com/lgesuellip/barber-booker/internal/whatsapp"
)

// ContentRegistrar registers rich content definitions with the provider.
type ContentRegistrar interface {
	CreateContent(ctx context.Context, req whatsapp.ContentCreateRequest) (string, error)
}

// ContentCache registers each distinct content definition once, remembering
// its SID under a hash of the definition. A nil store disables caching.
type ContentCache struct {
	store  store.Store
	logger *zap.Logger
}

func NewContentCache(s store.Store, logger *zap.Logger) *ContentCache {
	return &ContentCache{store: s, logger: logger}
}

// ContentKey is the cache key of a content definition.
func ContentKey(req whatsapp.ContentCreateRequest) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Resolve returns the SID for req, registering it when it is not cached.
// created reports whether this call registered it.
func (c *ContentCache) Resolve(ctx context.Context, reg ContentRegistrar, req whatsapp.ContentCreateRequest) (sid string, created bool, err error) {
	key := ContentKey(req)
	if c.store != nil {
		rec, err := c.store.GetContent(key)
		if err != nil {
			c.logger.Warn("content cache read failed", zap.Error(err))
		} else if rec != nil {
			return rec.SID, false, nil
		}
	}

	sid, err = reg.CreateContent(ctx, req)
	if err != nil {
		return "", false, err
	}
	c.logger.Info("registered content",
		zap.String("friendly_name", req.FriendlyName),
		zap.String("content_sid", sid),
	)

	if c.store != nil {
		rec := store.ContentRecord{Key: key, SID: sid, FriendlyName: req.FriendlyName}
		if err := c.store.SaveContent(rec); err != nil {
			c.logger.Warn("content cache write failed", zap.String("content_sid", sid), zap.Error(err))
		}
	}
	return sid, true, nil
}

// Forget drops the cached SID for req, e.g. after the provider rejected it.
func (c *ContentCache) Forget(req whatsapp.ContentCreateRequest) {
	if c.store == nil {
		return
	}
	if err := c.store.DeleteContent(ContentKey(req)); err != nil {
		c.logger.Warn("content cache delete failed", zap.Error(err))
	}
}
