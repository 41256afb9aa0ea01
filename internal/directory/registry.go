package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"axolotl/internal/domain"
)

// ErrNotFound is returned when no bundle is registered for a device, or no
// device at all for a recipient.
var ErrNotFound = errors.New("no bundle registered")

const keyPrefix = "directory/"

// registration is the stored form of one device's published keys.
type registration struct {
	Bundle  domain.PreKeyBundle          `json:"bundle"`
	PreKeys []domain.OneTimePreKeyPublic `json:"pre_keys"`
}

// Registry keeps published bundles in a Transactor and hands out each
// one-time prekey at most once. It implements domain.BundleDirectory and
// backs the HTTP Server.
type Registry struct {
	db     domain.Transactor
	logger *zap.Logger
}

// NewRegistry returns a registry over db.
func NewRegistry(db domain.Transactor, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{db: db, logger: logger.Named("directory")}
}

// RegisterPreKeyBundle replaces the registration of bundle.DeviceID. The
// signed prekey signature must verify; a one-time prekey inside bundle is
// moved into the pool.
func (r *Registry) RegisterPreKeyBundle(
	ctx context.Context,
	recipient domain.RecipientID,
	bundle domain.PreKeyBundle,
	prekeys []domain.OneTimePreKeyPublic,
) error {
	if recipient == "" {
		return fmt.Errorf("%w: empty recipient", domain.ErrMalformedBundle)
	}
	if _, err := bundle.Verify(); err != nil {
		return err
	}
	reg := registration{Bundle: bundle, PreKeys: append([]domain.OneTimePreKeyPublic(nil), prekeys...)}
	if bundle.PreKey != nil {
		reg.PreKeys = append([]domain.OneTimePreKeyPublic{*bundle.PreKey}, reg.PreKeys...)
		reg.Bundle.PreKey = nil
	}
	raw, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	if err := r.db.Update(ctx, func(wc domain.WriteContext) error {
		return wc.Set(deviceKey(recipient, bundle.DeviceID), raw)
	}); err != nil {
		return err
	}
	r.logger.Info("bundle registered",
		zap.Stringer("recipient", recipient),
		zap.Stringer("device", bundle.DeviceID),
		zap.Int("one_time", len(reg.PreKeys)),
	)
	return nil
}

// FetchPreKeyBundle returns the device's bundle with the oldest unused
// one-time prekey, removing it from the pool. Once the pool is empty the
// bundle carries none.
func (r *Registry) FetchPreKeyBundle(
	ctx context.Context,
	recipient domain.RecipientID,
	device domain.DeviceID,
) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	err := r.db.Update(ctx, func(wc domain.WriteContext) error {
		key := deviceKey(recipient, device)
		raw, ok, err := wc.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s.%d", ErrNotFound, recipient, device)
		}
		var reg registration
		if err := json.Unmarshal(raw, &reg); err != nil {
			return fmt.Errorf("directory: decode %s.%d: %w", recipient, device, err)
		}
		out = reg.Bundle
		if len(reg.PreKeys) == 0 {
			return nil
		}
		opk := reg.PreKeys[0]
		out.PreKey = &opk
		reg.PreKeys = reg.PreKeys[1:]
		if raw, err = json.Marshal(reg); err != nil {
			return err
		}
		return wc.Set(key, raw)
	})
	return out, err
}

// Devices lists the registered devices of recipient in ascending order. A
// recipient with no devices is ErrNotFound.
func (r *Registry) Devices(ctx context.Context, recipient domain.RecipientID) ([]domain.DeviceID, error) {
	var out []domain.DeviceID
	err := r.db.View(ctx, func(rc domain.ReadContext) error {
		return rc.Scan(recipientPrefix(recipient), func(k, _ []byte) error {
			s := string(k)
			n, err := strconv.ParseUint(s[strings.LastIndexByte(s, '/')+1:], 10, 32)
			if err != nil {
				return fmt.Errorf("directory: bad key %q: %w", s, err)
			}
			out = append(out, domain.DeviceID(n))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recipient)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Remaining reports how many one-time prekeys the device has left.
func (r *Registry) Remaining(ctx context.Context, recipient domain.RecipientID, device domain.DeviceID) (int, error) {
	var n int
	err := r.db.View(ctx, func(rc domain.ReadContext) error {
		raw, ok, err := rc.Get(deviceKey(recipient, device))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s.%d", ErrNotFound, recipient, device)
		}
		var reg registration
		if err := json.Unmarshal(raw, &reg); err != nil {
			return err
		}
		n = len(reg.PreKeys)
		return nil
	})
	return n, err
}

func recipientPrefix(r domain.RecipientID) []byte {
	return []byte(keyPrefix + url.PathEscape(r.String()) + "/")
}

func deviceKey(r domain.RecipientID, d domain.DeviceID) []byte {
	return append(recipientPrefix(r), d.String()...)
}

// Compile-time assertion that Registry implements domain.BundleDirectory.
var _ domain.BundleDirectory = (*Registry)(nil)
