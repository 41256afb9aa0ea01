package message

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"axolotl/internal/crypto"
	"axolotl/internal/domain"
	"axolotl/internal/locks"
	"axolotl/internal/logging"
	"axolotl/internal/metrics"
	"axolotl/internal/protocol/cipher"
	"axolotl/internal/protocol/ratchet"
	"axolotl/internal/protocol/record"
)

// Deps are the collaborators of a Service. Metrics and Logger are optional.
type Deps struct {
	// Self is the local address stamped on outgoing envelopes.
	Self       domain.Address
	Identities domain.IdentityStore
	DB         domain.Transactor
	Sessions   domain.SessionStore
	PreKeys    domain.PreKeyStore
	Trust      domain.IdentityTrustStore
	Cipher     *cipher.Cipher
	Locks      *locks.Table
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service encrypts and decrypts envelopes over stored sessions.
//
// Each call locks the peer address, loads the record, runs the cipher and
// stores the result in one write transaction. A failed call leaves the
// record and the prekey store exactly as they were.
type Service struct {
	d      Deps
	logger *zap.Logger
}

// New constructs a message service.
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
	return &Service{d: d, logger: d.Logger.Named("message")}
}

// Encrypt seals plaintext for the device at to. It fails with
// ErrNoSession when no live session exists and with ErrUntrustedIdentity
// when the trusted identity of the recipient no longer matches the session.
func (s *Service) Encrypt(ctx context.Context, to domain.Address, plaintext []byte) (env domain.Envelope, err error) {
	defer func() { s.observe("encrypt", to, err) }()

	unlock, err := s.d.Locks.LockContext(ctx, to.String())
	if err != nil {
		return domain.Envelope{}, err
	}
	defer unlock()

	err = s.d.DB.Update(ctx, func(wc domain.WriteContext) error {
		rec, err := s.d.Sessions.LoadSession(wc, to)
		if err != nil {
			return err
		}
		st, err := rec.Current()
		if err != nil {
			return fmt.Errorf("encrypt for %s: %w", to, err)
		}
		trusted, err := s.d.Trust.IsTrustedIdentity(wc, to.Recipient, st.RemoteIdentity)
		if err != nil {
			return err
		}
		if !trusted {
			return fmt.Errorf("%w: identity of %s changed", domain.ErrUntrustedIdentity, to.Recipient)
		}

		var out *record.SessionRecord
		env, out, err = s.d.Cipher.Encrypt(rec, s.d.Self, plaintext)
		if err != nil {
			return err
		}
		return s.d.Sessions.StoreSession(wc, to, out)
	})
	if err != nil {
		return domain.Envelope{}, err
	}

	s.d.Metrics.Messages.WithLabelValues("out").Inc()
	s.logger.Debug("message encrypted",
		zap.Stringer("address", to),
		zap.Uint32("counter", env.Header.Counter),
		zap.Bool("prekey", env.PreKey != nil),
	)
	return env, nil
}

// Decrypt opens env from env.Sender.
//
// An envelope carrying a PreKeyMessage whose base key the record does not
// know yet creates a responder state first. The named one-time prekey is
// consumed in the same transaction; if it is already gone the message is a
// replay and fails with ErrReplayedPreKey.
func (s *Service) Decrypt(ctx context.Context, passphrase string, env domain.Envelope) (pt []byte, err error) {
	from := env.Sender
	defer func() { s.observe("decrypt", from, err) }()

	var local domain.Identity
	if env.PreKey != nil {
		if local, err = s.d.Identities.LoadIdentity(passphrase); err != nil {
			return nil, err
		}
	}

	unlock, err := s.d.Locks.LockContext(ctx, from.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	created := false
	err = s.d.DB.Update(ctx, func(wc domain.WriteContext) error {
		rec, err := s.d.Sessions.LoadSession(wc, from)
		if err != nil {
			return err
		}

		if env.PreKey != nil && !rec.HasBaseKey(env.PreKey.BaseKey) {
			prekeys, err := s.localPreKeys(wc, from, *env.PreKey)
			if err != nil {
				return err
			}
			if rec, created, err = s.d.Cipher.AcceptPreKey(rec, local, prekeys, env); err != nil {
				return err
			}
		}

		var out *record.SessionRecord
		pt, out, err = s.d.Cipher.Decrypt(rec, env)
		if err != nil {
			return err
		}
		if created {
			if _, err := s.d.Trust.SaveIdentity(wc, from.Recipient, env.PreKey.IdentityKey); err != nil {
				return err
			}
		}
		return s.d.Sessions.StoreSession(wc, from, out)
	})
	if err != nil {
		return nil, err
	}

	s.d.Metrics.Messages.WithLabelValues("in").Inc()
	if created {
		s.d.Metrics.SessionsEstablished.WithLabelValues("responder").Inc()
		s.logger.Info("session accepted",
			zap.Stringer("address", from),
			zap.Stringer("remote_identity", crypto.IdentityFingerprint(env.PreKey.IdentityKey)),
		)
	}
	s.logger.Debug("message decrypted", zap.Stringer("address", from), zap.Uint32("counter", env.Header.Counter))
	return pt, nil
}

// localPreKeys checks the sender's identity and collects the prekeys msg
// names. A missing one-time prekey is left nil for the engine to reject.
func (s *Service) localPreKeys(wc domain.WriteContext, from domain.Address, msg domain.PreKeyMessage) (ratchet.LocalPreKeys, error) {
	var out ratchet.LocalPreKeys

	trusted, err := s.d.Trust.IsTrustedIdentity(wc, from.Recipient, msg.IdentityKey)
	if err != nil {
		return out, err
	}
	if !trusted {
		return out, fmt.Errorf("%w: identity of %s changed", domain.ErrUntrustedIdentity, from.Recipient)
	}

	signed, ok, err := s.d.PreKeys.LoadSignedPreKey(wc, msg.SignedPreKeyID)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, fmt.Errorf("%w: signed prekey %d", domain.ErrInvalidPreKey, msg.SignedPreKeyID)
	}
	out.Signed = signed

	if msg.PreKeyID != nil {
		opk, ok, err := s.d.PreKeys.ConsumePreKey(wc, *msg.PreKeyID)
		if err != nil {
			return out, err
		}
		if ok {
			out.OneTime = &opk
		}
	}
	return out, nil
}

func (s *Service) observe(op string, peer domain.Address, err error) {
	if err == nil {
		return
	}
	kind := domain.ErrorKind(err)
	s.d.Metrics.Error(err)
	s.logger.Warn(op+" failed", append(logging.Error(kind, err), zap.Stringer("address", peer))...)
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)
