// Package access owns the grant state machine over the external
// AccessRegistry. A (patient, doctor) pair is in one of three states —
// no access, permanent, or temporary with an expiry — and a new grant call
// always overwrites the prior state. Temporary grants expire lazily: the
// registry read simply stops reporting them once their expiry passes.
package access

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault/internal/identity"
	"github.com/medblocks/medvault/pkg/faults"
)

// Durations above this fail InvalidDuration before any external call. This
// also keeps the seconds value far from uint256/uint64 overflow territory.
const maxGrantDuration = 10 * 365 * 24 * time.Hour

const signatureLength = 65

// Registry is the contract surface the service drives. *chain.Client
// satisfies it; tests use fakes.
type Registry interface {
	HasAccess(ctx context.Context, patient, doctor common.Address) (bool, error)
	GrantPermanent(ctx context.Context, doctor common.Address) (common.Hash, error)
	GrantTemporary(ctx context.Context, doctor common.Address, durationSeconds *big.Int) (common.Hash, error)
	Revoke(ctx context.Context, doctor common.Address) (common.Hash, error)
	GrantWithSignature(ctx context.Context, patient, doctor common.Address, permanent bool, expiry, nonce *big.Int, signature []byte) (common.Hash, error)
	RevokeWithSignature(ctx context.Context, patient, doctor common.Address, nonce *big.Int, signature []byte) (common.Hash, error)
}

// MetaAuthorization is a signature-authorized grant or revocation: the
// patient signs the change off-chain and the backend relays it. The
// registry contract verifies the signature and consumes the nonce; this
// service only rejects obviously malformed payloads and translates the
// registry's verdict.
type MetaAuthorization struct {
	Patient   string
	Doctor    string
	Permanent bool
	Expiry    uint64
	Nonce     uint64
	Signature []byte
}

// Service implements the access-grant operations.
type Service struct {
	registry Registry
	log      *logrus.Logger
}

// NewService returns a Service over the given registry binding.
func NewService(registry Registry, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{registry: registry, log: logger}
}

// GrantPermanent moves the pair to the Permanent state.
func (s *Service) GrantPermanent(ctx context.Context, patient, doctor string) (string, error) {
	_, doctorAddr, err := parsePair(patient, doctor)
	if err != nil {
		return "", err
	}

	hash, err := s.registry.GrantPermanent(ctx, doctorAddr)
	if err != nil {
		return "", err
	}
	s.logGrant("permanent", patient, doctor, hash)
	return hash.Hex(), nil
}

// GrantTemporary moves the pair to Temporary(now+duration). The duration is
// validated before any external call. Granting on top of a Permanent grant
// downgrades it; the registry overwrites, it does not accumulate.
func (s *Service) GrantTemporary(ctx context.Context, patient, doctor string, duration time.Duration) (string, error) {
	_, doctorAddr, err := parsePair(patient, doctor)
	if err != nil {
		return "", err
	}
	if duration <= 0 {
		return "", fmt.Errorf("%w: duration must be positive, got %s", faults.ErrInvalidDuration, duration)
	}
	if duration > maxGrantDuration {
		return "", fmt.Errorf("%w: duration %s exceeds the %s limit", faults.ErrInvalidDuration, duration, maxGrantDuration)
	}

	seconds := big.NewInt(int64(duration / time.Second))
	hash, err := s.registry.GrantTemporary(ctx, doctorAddr, seconds)
	if err != nil {
		return "", err
	}
	s.logGrant("temporary", patient, doctor, hash)
	return hash.Hex(), nil
}

// Revoke moves the pair back to NoAccess.
func (s *Service) Revoke(ctx context.Context, patient, doctor string) (string, error) {
	_, doctorAddr, err := parsePair(patient, doctor)
	if err != nil {
		return "", err
	}

	hash, err := s.registry.Revoke(ctx, doctorAddr)
	if err != nil {
		return "", err
	}
	s.logGrant("revoke", patient, doctor, hash)
	return hash.Hex(), nil
}

// CheckAccess reports whether requester may read the patient's records.
// Self-access is always allowed; otherwise the registry decides, and an
// expired temporary grant simply no longer satisfies the read.
func (s *Service) CheckAccess(ctx context.Context, patient, requester string) (bool, error) {
	patientAddr, err := identity.Parse(patient)
	if err != nil {
		return false, err
	}
	requesterAddr, err := identity.Parse(requester)
	if err != nil {
		return false, err
	}

	if patientAddr == requesterAddr {
		return true, nil
	}
	return s.registry.HasAccess(ctx, patientAddr, requesterAddr)
}

// GrantWithSignature relays a signature-authorized grant.
func (s *Service) GrantWithSignature(ctx context.Context, auth MetaAuthorization) (string, error) {
	patientAddr, doctorAddr, err := validateMeta(auth)
	if err != nil {
		return "", err
	}

	hash, err := s.registry.GrantWithSignature(ctx, patientAddr, doctorAddr, auth.Permanent,
		new(big.Int).SetUint64(auth.Expiry), new(big.Int).SetUint64(auth.Nonce), auth.Signature)
	if err != nil {
		return "", translateRegistryRejection(err)
	}
	s.logGrant("signed-grant", auth.Patient, auth.Doctor, hash)
	return hash.Hex(), nil
}

// RevokeWithSignature relays a signature-authorized revocation.
func (s *Service) RevokeWithSignature(ctx context.Context, auth MetaAuthorization) (string, error) {
	patientAddr, doctorAddr, err := validateMeta(auth)
	if err != nil {
		return "", err
	}

	hash, err := s.registry.RevokeWithSignature(ctx, patientAddr, doctorAddr,
		new(big.Int).SetUint64(auth.Nonce), auth.Signature)
	if err != nil {
		return "", translateRegistryRejection(err)
	}
	s.logGrant("signed-revoke", auth.Patient, auth.Doctor, hash)
	return hash.Hex(), nil
}

func parsePair(patient, doctor string) (common.Address, common.Address, error) {
	patientAddr, err := identity.Parse(patient)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	doctorAddr, err := identity.Parse(doctor)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return patientAddr, doctorAddr, nil
}

func validateMeta(auth MetaAuthorization) (common.Address, common.Address, error) {
	patientAddr, doctorAddr, err := parsePair(auth.Patient, auth.Doctor)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	if len(auth.Signature) != signatureLength {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d",
			faults.ErrInvalidSignature, signatureLength, len(auth.Signature))
	}
	return patientAddr, doctorAddr, nil
}

// translateRegistryRejection maps the registry's terminal revert reasons to
// the typed errors callers act on. Transport-level submission failures pass
// through unchanged.
func translateRegistryRejection(err error) error {
	if faults.Retryable(err) || !errors.Is(err, faults.ErrSubmission) {
		return err
	}
	reason := strings.ToLower(err.Error())
	switch {
	case strings.Contains(reason, "signature"):
		return fmt.Errorf("%w: %v", faults.ErrInvalidSignature, err)
	case strings.Contains(reason, "nonce already used") || strings.Contains(reason, "nonce used") ||
		strings.Contains(reason, "replayed"):
		return fmt.Errorf("%w: %v", faults.ErrInvalidSignature, err)
	case strings.Contains(reason, "not authorized") || strings.Contains(reason, "unauthorized"):
		return fmt.Errorf("%w: %v", faults.ErrUnauthorized, err)
	default:
		return err
	}
}

func (s *Service) logGrant(kind, patient, doctor string, hash common.Hash) {
	s.log.WithFields(logrus.Fields{
		"kind":    kind,
		"patient": patient,
		"doctor":  doctor,
		"tx":      hash.Hex(),
	}).Info("access registry updated")
}
