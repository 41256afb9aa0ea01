package prekey

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"axolotl/internal/crypto"
	"axolotl/internal/domain"
)

var (
	// ErrNoSignedPreKey is returned when a bundle is requested before any
	// prekeys were generated.
	ErrNoSignedPreKey = errors.New("no signed prekey available; generate prekeys first")
	// ErrNoDirectory is returned by PublishPreKeyBundle when no directory
	// is configured.
	ErrNoDirectory = errors.New("no bundle directory configured")
)

// Service manages prekey pairs and builds the public bundle.
type Service struct {
	ids    domain.IdentityStore
	db     domain.Transactor
	ps     domain.PreKeyStore
	dir    domain.BundleDirectory
	logger *zap.Logger
	now    func() time.Time
}

// New returns a prekey service. dir may be nil when bundles are exchanged
// out of band.
func New(
	ids domain.IdentityStore,
	db domain.Transactor,
	ps domain.PreKeyStore,
	dir domain.BundleDirectory,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ids: ids, db: db, ps: ps, dir: dir, logger: logger.Named("prekey"), now: time.Now}
}

// GenerateAndStorePreKeys creates a new signed prekey, marks it current,
// and adds count one-time prekeys. Older signed prekeys stay stored so
// sessions started from a previous bundle can still be accepted.
func (s *Service) GenerateAndStorePreKeys(ctx context.Context, passphrase string, count int) (
	domain.SignedPreKeyID,
	[]domain.OneTimePreKeyPublic,
	error,
) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return 0, nil, err
	}

	spk, err := crypto.GenerateX25519(nil)
	if err != nil {
		return 0, nil, err
	}
	oneTime := make([]domain.KeyPair, 0, count)
	for i := 0; i < count; i++ {
		kp, err := crypto.GenerateX25519(nil)
		if err != nil {
			return 0, nil, err
		}
		oneTime = append(oneTime, kp)
	}

	var (
		spkID   domain.SignedPreKeyID
		publics []domain.OneTimePreKeyPublic
	)
	err = s.db.Update(ctx, func(wc domain.WriteContext) error {
		publics = publics[:0]
		cur, ok, err := s.ps.CurrentSignedPreKeyID(wc)
		if err != nil {
			return err
		}
		spkID = 1
		if ok {
			spkID = cur + 1
		}
		rec := domain.SignedPreKeyRecord{
			ID:         spkID,
			KeyPair:    spk,
			Signature:  crypto.SignPreKey(id.EdPriv, spk.Public),
			CreatedUTC: s.now().UTC().Unix(),
		}
		if err := s.ps.StoreSignedPreKey(wc, rec); err != nil {
			return err
		}
		if err := s.ps.SetCurrentSignedPreKeyID(wc, spkID); err != nil {
			return err
		}

		if count == 0 {
			return nil
		}
		first, err := s.ps.ReservePreKeyIDs(wc, count)
		if err != nil {
			return err
		}
		recs := make([]domain.PreKeyRecord, 0, count)
		for i, kp := range oneTime {
			pid := first + domain.PreKeyID(i)
			recs = append(recs, domain.PreKeyRecord{ID: pid, KeyPair: kp})
			publics = append(publics, domain.OneTimePreKeyPublic{ID: pid, Pub: kp.Public})
		}
		return s.ps.StorePreKeys(wc, recs)
	})
	if err != nil {
		return 0, nil, err
	}
	s.logger.Info("prekeys generated", zap.Uint32("signed_prekey_id", uint32(spkID)), zap.Int("one_time", len(publics)))
	return spkID, publics, nil
}

// LoadPreKeyBundle assembles the bundle for device from the current signed
// prekey. The bundle itself carries no one-time prekey; the unused ones are
// returned separately for a directory to hand out.
func (s *Service) LoadPreKeyBundle(ctx context.Context, passphrase string, device domain.DeviceID) (
	domain.PreKeyBundle,
	[]domain.OneTimePreKeyPublic,
	error,
) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.PreKeyBundle{}, nil, err
	}

	var (
		signed  domain.SignedPreKeyRecord
		oneTime []domain.OneTimePreKeyPublic
	)
	err = s.db.View(ctx, func(rc domain.ReadContext) error {
		cur, ok, err := s.ps.CurrentSignedPreKeyID(rc)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoSignedPreKey
		}
		signed, ok, err = s.ps.LoadSignedPreKey(rc, cur)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoSignedPreKey
		}
		oneTime, err = s.ps.ListPreKeys(rc)
		return err
	})
	if err != nil {
		return domain.PreKeyBundle{}, nil, err
	}

	return domain.PreKeyBundle{
		RegistrationID:        id.RegistrationID,
		DeviceID:              device,
		IdentityKey:           id.PublicKey(),
		SignedPreKeyID:        signed.ID,
		SignedPreKey:          signed.KeyPair.Public,
		SignedPreKeySignature: signed.Signature,
	}, oneTime, nil
}

// PublishPreKeyBundle registers the current bundle and every unused
// one-time prekey with the directory under self.
func (s *Service) PublishPreKeyBundle(ctx context.Context, passphrase string, self domain.Address) error {
	if s.dir == nil {
		return ErrNoDirectory
	}
	bundle, oneTime, err := s.LoadPreKeyBundle(ctx, passphrase, self.Device)
	if err != nil {
		return err
	}
	if err := s.dir.RegisterPreKeyBundle(ctx, self.Recipient, bundle, oneTime); err != nil {
		return err
	}
	s.logger.Info("bundle published", zap.Stringer("address", self), zap.Int("one_time", len(oneTime)))
	return nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
