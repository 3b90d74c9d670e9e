package broadcast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"kiosk-service/internal/cache"
	"kiosk-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const stateKey = "kiosk:status:v1"

type ProductState struct {
	ProductID              uuid.UUID  `json:"productId"`
	Name                   string     `json:"name"`
	PriceCents             int64      `json:"priceCents"`
	IsActive               bool       `json:"isActive"`
	Balance                int64      `json:"balance"`
	Threshold              int32      `json:"threshold"`
	BelowThresholdNotified bool       `json:"belowThresholdNotified"`
	Discrepancy            bool       `json:"discrepancy"`
	LastAdjustmentAt       *time.Time `json:"lastAdjustmentAt,omitempty"`
}

type KioskStatus struct {
	TrackingEnabled bool `json:"trackingEnabled"`
	AlertsDegraded  bool `json:"alertsDegraded"`
}

// State is the full picture sent as inventory:init and served to pollers.
// Products are ordered by id so equal states marshal to equal bytes.
type State struct {
	Products []ProductState `json:"products"`
	Status   KioskStatus    `json:"status"`
}

type Inventory interface {
	ListSnapshots(ctx context.Context) ([]models.InventorySnapshot, error)
	TrackingEnabled(ctx context.Context) (bool, error)
}

type ProductLister interface {
	List(ctx context.Context) ([]models.Product, error)
}

// Source assembles State from storage.
type Source struct {
	products ProductLister
	inv      Inventory
	degraded func() bool
}

func NewSource(products ProductLister, inv Inventory, degraded func() bool) *Source {
	if degraded == nil {
		degraded = func() bool { return false }
	}
	return &Source{products: products, inv: inv, degraded: degraded}
}

func (s *Source) State(ctx context.Context) (*State, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := s.inv.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	status, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}

	bySnap := make(map[uuid.UUID]models.InventorySnapshot, len(snaps))
	for _, sn := range snaps {
		bySnap[sn.ProductID] = sn
	}

	st := &State{Products: make([]ProductState, 0, len(products)), Status: status}
	for _, p := range products {
		ps := ProductState{
			ProductID:  p.ID,
			Name:       p.Name,
			PriceCents: p.PriceCents,
			IsActive:   p.IsActive,
			Threshold:  p.DefaultLowStockThreshold,
		}
		if sn, ok := bySnap[p.ID]; ok {
			ps.Balance = sn.CurrentBalance
			ps.Threshold = sn.LowStockThreshold
			ps.BelowThresholdNotified = sn.BelowThresholdNotified
			ps.Discrepancy = sn.IsDiscrepancy()
			if sn.LastAdjustmentAt != nil {
				t := sn.LastAdjustmentAt.UTC()
				ps.LastAdjustmentAt = &t
			}
		}
		st.Products = append(st.Products, ps)
	}
	sort.Slice(st.Products, func(i, j int) bool {
		return st.Products[i].ProductID.String() < st.Products[j].ProductID.String()
	})
	return st, nil
}

func (s *Source) Status(ctx context.Context) (KioskStatus, error) {
	on, err := s.inv.TrackingEnabled(ctx)
	if err != nil {
		return KioskStatus{}, err
	}
	return KioskStatus{TrackingEnabled: on, AlertsDegraded: s.degraded()}, nil
}

// Polled is the serialized state plus its fingerprint.
type Polled struct {
	Body []byte
	ETag string
}

func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// StateCache serves Polled state from a short-lived cache. Concurrent misses share one rebuild.
type StateCache struct {
	src   *Source
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
}

func NewStateCache(src *Source, c cache.Cache, ttl time.Duration, log *zap.Logger) *StateCache {
	return &StateCache{src: src, cache: c, ttl: ttl, log: log}
}

func (c *StateCache) Current(ctx context.Context) (*Polled, error) {
	body, ok, err := c.cache.Get(ctx, stateKey)
	if err != nil {
		c.log.Warn("state cache read failed", zap.Error(err))
	}
	if ok {
		return &Polled{Body: body, ETag: Fingerprint(body)}, nil
	}

	v, err, _ := c.group.Do(stateKey, func() (any, error) {
		st, err := c.src.State(ctx)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, stateKey, body, c.ttl); err != nil {
			c.log.Warn("state cache write failed", zap.Error(err))
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	body = v.([]byte)
	return &Polled{Body: body, ETag: Fingerprint(body)}, nil
}

// Invalidate drops the cached state so the next poll sees the latest change.
func (c *StateCache) Invalidate(ctx context.Context) {
	if err := c.cache.Del(ctx, stateKey); err != nil {
		c.log.Warn("state cache invalidate failed", zap.Error(err))
	}
}
