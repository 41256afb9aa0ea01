package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"axolotl/internal/crypto"
	"axolotl/internal/domain"
	"axolotl/internal/locks"
	"axolotl/internal/logging"
	"axolotl/internal/metrics"
	"axolotl/internal/protocol/cipher"
	"axolotl/internal/protocol/record"
)

// ErrNoDirectory is returned by StartSession when no directory is configured.
var ErrNoDirectory = errors.New("no bundle directory configured")

// Deps are the collaborators of a Service. Directory, Metrics and Logger
// are optional.
type Deps struct {
	Identities domain.IdentityStore
	DB         domain.Transactor
	Sessions   domain.SessionStore
	Trust      domain.IdentityTrustStore
	Directory  domain.BundleDirectory
	Cipher     *cipher.Cipher
	Locks      *locks.Table
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service establishes sessions from prekey bundles and manages the stored
// session records.
//
// Every write runs under the per-address lock and inside one store
// transaction, so a trust check, the new state and the trusted identity
// either all commit or none do.
type Service struct {
	d      Deps
	logger *zap.Logger
}

// New constructs a session service.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Discard()
	}
	if d.Locks == nil {
		d.Locks = locks.New()
	}
	return &Service{d: d, logger: d.Logger.Named("session")}
}

// StartSession fetches the peer device's bundle from the directory and
// processes it.
func (s *Service) StartSession(ctx context.Context, passphrase string, peer domain.Address) error {
	if s.d.Directory == nil {
		return ErrNoDirectory
	}
	bundle, err := s.d.Directory.FetchPreKeyBundle(ctx, peer.Recipient, peer.Device)
	if err != nil {
		return fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}
	return s.ProcessBundle(ctx, passphrase, peer, bundle)
}

// ProcessBundle verifies bundle, checks the peer's identity against the
// trust store and promotes a fresh initiator state for peer. Any existing
// state for peer is archived.
func (s *Service) ProcessBundle(
	ctx context.Context,
	passphrase string,
	peer domain.Address,
	bundle domain.PreKeyBundle,
) (err error) {
	defer func() { s.observe("process_bundle", peer, err) }()

	if bundle.DeviceID != peer.Device {
		return fmt.Errorf("%w: bundle is for device %d, not %d", domain.ErrMalformedBundle, bundle.DeviceID, peer.Device)
	}
	verified, err := bundle.Verify()
	if err != nil {
		return err
	}
	id, err := s.d.Identities.LoadIdentity(passphrase)
	if err != nil {
		return err
	}

	unlock, err := s.d.Locks.LockContext(ctx, peer.String())
	if err != nil {
		return err
	}
	defer unlock()

	err = s.d.DB.Update(ctx, func(wc domain.WriteContext) error {
		trusted, err := s.d.Trust.IsTrustedIdentity(wc, peer.Recipient, bundle.IdentityKey)
		if err != nil {
			return err
		}
		if !trusted {
			return fmt.Errorf("%w: identity of %s changed", domain.ErrUntrustedIdentity, peer.Recipient)
		}

		st, err := s.d.Cipher.Engine().Originate(id, verified)
		if err != nil {
			return err
		}
		rec, err := s.d.Sessions.LoadSession(wc, peer)
		if err != nil {
			return err
		}
		rec.PromoteNewState(st)
		if err := s.d.Sessions.StoreSession(wc, peer, rec); err != nil {
			return err
		}
		_, err = s.d.Trust.SaveIdentity(wc, peer.Recipient, bundle.IdentityKey)
		return err
	})
	if err != nil {
		return err
	}

	s.d.Metrics.SessionsEstablished.WithLabelValues("initiator").Inc()
	s.logger.Info("session started",
		zap.Stringer("address", peer),
		zap.Stringer("remote_identity", crypto.IdentityFingerprint(bundle.IdentityKey)),
		zap.Bool("one_time_prekey", bundle.PreKey != nil),
	)
	return nil
}

// HasSession reports whether a live session exists for peer.
func (s *Service) HasSession(ctx context.Context, peer domain.Address) (bool, error) {
	var ok bool
	err := s.d.DB.View(ctx, func(rc domain.ReadContext) error {
		var err error
		ok, err = s.d.Sessions.ContainsSession(rc, peer)
		return err
	})
	return ok, err
}

// DeviceIDs lists the devices of recipient with a live session.
func (s *Service) DeviceIDs(ctx context.Context, recipient domain.RecipientID) ([]domain.DeviceID, error) {
	var ids []domain.DeviceID
	err := s.d.DB.View(ctx, func(rc domain.ReadContext) error {
		var err error
		ids, err = s.d.Sessions.DeviceIDs(rc, recipient)
		return err
	})
	return ids, err
}

// Describe summarises every stored record of recipient without exposing
// key material.
func (s *Service) Describe(ctx context.Context, recipient domain.RecipientID) ([]domain.SessionInfo, error) {
	var out []domain.SessionInfo
	err := s.d.DB.View(ctx, func(rc domain.ReadContext) error {
		all, err := s.d.Sessions.AllDeviceSessions(rc, recipient)
		if err != nil {
			return err
		}
		out = make([]domain.SessionInfo, 0, len(all))
		for _, ds := range all {
			out = append(out, describe(domain.Address{Recipient: recipient, Device: ds.Device}, ds.Record))
		}
		return nil
	})
	return out, err
}

func describe(addr domain.Address, rec *record.SessionRecord) domain.SessionInfo {
	info := domain.SessionInfo{
		Address:        addr,
		Active:         rec.HasSession(),
		PreviousStates: len(rec.PreviousStates()),
	}
	st, err := rec.Current()
	if err != nil {
		if prev := rec.PreviousStates(); len(prev) > 0 {
			info.RemoteIdentity = crypto.IdentityFingerprint(prev[0].RemoteIdentity)
		}
		return info
	}
	info.RemoteIdentity = crypto.IdentityFingerprint(st.RemoteIdentity)
	info.Pending = st.Pending != nil
	if st.Sending != nil {
		info.SendingIndex = st.Sending.Index
	}
	if st.Receiving != nil {
		info.ReceivingIndex = st.Receiving.Index
	}
	info.SkippedKeys = st.Skipped.Len()
	return info
}

// DeleteDevice removes the session record of one device.
func (s *Service) DeleteDevice(ctx context.Context, peer domain.Address) error {
	unlock, err := s.d.Locks.LockContext(ctx, peer.String())
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.d.DB.Update(ctx, func(wc domain.WriteContext) error {
		return s.d.Sessions.DeleteSession(wc, peer)
	}); err != nil {
		return err
	}
	s.logger.Info("session deleted", zap.Stringer("address", peer))
	return nil
}

// Reset deletes every session with recipient and forgets its trusted
// identity, so the next bundle or prekey message is trusted afresh.
//
// Every device's lock is held while its session is deleted. A device that
// gains a session between the scan and the write is picked up by the next
// round.
func (s *Service) Reset(ctx context.Context, recipient domain.RecipientID) error {
	var keys []string
	if err := s.d.DB.View(ctx, func(rc domain.ReadContext) error {
		var err error
		keys, err = s.deviceLockKeys(rc, recipient)
		return err
	}); err != nil {
		return err
	}

	for {
		unlock, err := s.lockAll(ctx, keys)
		if err != nil {
			return err
		}
		var seen []string
		err = s.d.DB.Update(ctx, func(wc domain.WriteContext) error {
			var scanErr error
			if seen, scanErr = s.deviceLockKeys(wc, recipient); scanErr != nil {
				return scanErr
			}
			if !subset(seen, keys) {
				return errStaleDevices
			}
			if err := s.d.Sessions.DeleteAllSessions(wc, recipient); err != nil {
				return err
			}
			return s.d.Trust.ForgetIdentity(wc, recipient)
		})
		unlock()
		switch {
		case errors.Is(err, errStaleDevices):
			keys = union(keys, seen)
			continue
		case err != nil:
			return err
		}
		s.logger.Info("sessions reset", zap.Stringer("recipient", recipient), zap.Int("devices", len(keys)))
		return nil
	}
}

var errStaleDevices = errors.New("device set changed")

// deviceLockKeys returns the sorted lock keys of recipient's devices.
func (s *Service) deviceLockKeys(rc domain.ReadContext, recipient domain.RecipientID) ([]string, error) {
	all, err := s.d.Sessions.AllDeviceSessions(rc, recipient)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, ds := range all {
		keys = append(keys, domain.Address{Recipient: recipient, Device: ds.Device}.String())
	}
	sort.Strings(keys)
	return keys, nil
}

// lockAll takes the locks for keys in order. keys must be sorted.
func (s *Service) lockAll(ctx context.Context, keys []string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys {
		unlock, err := s.d.Locks.LockContext(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func subset(a, b []string) bool {
	for _, k := range a {
		i := sort.SearchStrings(b, k)
		if i == len(b) || b[i] != k {
			return false
		}
	}
	return true
}

// union merges two sorted key lists.
func union(a, b []string) []string {
	out := append(append([]string(nil), a...), b...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[n-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}

func (s *Service) observe(op string, peer domain.Address, err error) {
	if err == nil {
		return
	}
	kind := domain.ErrorKind(err)
	s.d.Metrics.Error(err)
	s.logger.Warn(op+" failed", append(logging.Error(kind, err), zap.Stringer("address", peer))...)
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)
