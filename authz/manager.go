package authz

import (
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const claimKeyPrefix = "claims:pro:"

// Manager propagates the entitlement flag to the Redis-backed claims store that
// downstream HelixCard services consult when authorizing pro-only features
type Manager struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

// NewManager returns a new Manager for entitlement claims
func NewManager(logger *zap.Logger, rdb redis.UniversalClient) (*Manager, error) {
	if rdb == nil {
		return nil, fmt.Errorf("nil redisClient is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Manager{
		rdb:    rdb,
		logger: logger,
	}, nil
}

// SetPro records the entitlement flag for a user. Overwriting with the same
// value is a no-op, so replayed webhook deliveries are safe
func (m *Manager) SetPro(uid string, pro bool) error {
	if err := m.rdb.Set(claimKeyPrefix+uid, strconv.FormatBool(pro), 0).Err(); err != nil {
		m.logger.Error("Unable to update entitlement claim",
			zap.String("UserID", uid),
			zap.Bool("IsPro", pro),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot update entitlement claim")
	}
	return nil
}

// IsPro returns the stored entitlement flag, defaulting to false when absent
func (m *Manager) IsPro(uid string) (bool, error) {
	val, err := m.rdb.Get(claimKeyPrefix + uid).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot read entitlement claim")
	}
	pro, err := strconv.ParseBool(val)
	if err != nil {
		return false, extErrors.Wrap(err, "Corrupted entitlement claim")
	}
	return pro, nil
}
