// Package medvault is the root handle over the encrypted medical-record
// vault. A Vault owns the ledger connection, the transaction pipeline, the
// pinning client, the crypto envelope and the local filename index, and
// exposes the record and access operations as one facade.
package medvault

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault/internal/access"
	"github.com/medblocks/medvault/internal/chain"
	"github.com/medblocks/medvault/internal/envelope"
	"github.com/medblocks/medvault/internal/filemap"
	"github.com/medblocks/medvault/internal/identity"
	"github.com/medblocks/medvault/internal/pinstore"
	"github.com/medblocks/medvault/internal/records"
)

var (
	// ErrNotStarted is returned when an operation is invoked before Start.
	ErrNotStarted = errors.New("medvault: vault not started")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("medvault: vault closed")
)

// Vault is the assembled service. Create with New, bring up with Start,
// tear down with Close. All facade methods are safe for concurrent use once
// Start has returned.
type Vault struct {
	conf Config
	log  *logrus.Logger

	eth     *ethclient.Client
	chain   *chain.Client
	access  *access.Service
	records *records.Pipeline
	names   *filemap.Index

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New validates the configuration and returns an idle Vault. Nothing
// connects until Start.
func New(conf Config, logger *logrus.Logger) (*Vault, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Vault{conf: conf, log: logger}, nil
}

// Start connects to the ledger node, opens the local index and wires the
// services together. It is safe to call more than once; only the first call
// does work.
func (v *Vault) Start(ctx context.Context) error {
	var startErr error
	v.startOnce.Do(func() {
		startErr = v.start(ctx)
		if startErr == nil {
			v.started.Store(true)
		}
	})
	if startErr != nil {
		return startErr
	}
	if !v.started.Load() {
		return ErrNotStarted
	}
	return nil
}

func (v *Vault) start(ctx context.Context) error {
	signingKey, err := crypto.HexToECDSA(strings.TrimPrefix(v.conf.BackendPrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("medvault: parse backend signing key: %w", err)
	}

	masterKey, err := envelope.KeyFromString(v.conf.MasterKey)
	if err != nil {
		return err
	}
	env, err := envelope.New(masterKey)
	if err != nil {
		return err
	}

	registryAddr, err := identity.Parse(v.conf.RegistryAddress)
	if err != nil {
		return err
	}
	ledgerAddr, err := identity.Parse(v.conf.LedgerAddress)
	if err != nil {
		return err
	}

	eth, chainID, err := chain.Dial(ctx, v.conf.RPCURL)
	if err != nil {
		return err
	}

	pipeline, err := chain.NewPipeline(eth, signingKey, chainID, chain.PipelineConfig{
		GasLimit:   v.conf.GasLimit,
		FeeCapGwei: v.conf.FeeCapGwei,
		TipCapGwei: v.conf.TipCapGwei,
		Logger:     v.log,
	})
	if err != nil {
		eth.Close()
		return err
	}

	pins, err := pinstore.New(pinstore.Config{
		APIKey:     v.conf.Pinata.APIKey,
		SecretKey:  v.conf.Pinata.SecretKey,
		APIBase:    v.conf.Pinata.APIBase,
		Gateway:    v.conf.Pinata.Gateway,
		MaxRetries: v.conf.Pinata.Retries,
		Backoff:    v.conf.Pinata.Backoff,
		Logger:     v.log,
	})
	if err != nil {
		eth.Close()
		return err
	}

	names, err := filemap.Open(filemap.Config{
		Path:          filepath.Join(v.conf.DataDir, "filemap"),
		MinimumFreeGB: v.conf.MinimumFreeGB,
		Logger:        v.log,
	})
	if err != nil {
		eth.Close()
		return err
	}

	contracts := chain.NewClient(eth, pipeline, registryAddr, ledgerAddr, v.log)
	accessSvc := access.NewService(contracts, v.log)

	v.eth = eth
	v.chain = contracts
	v.access = accessSvc
	v.names = names
	v.records = records.New(pins, contracts, accessSvc, env, names, v.log)

	v.log.WithFields(logrus.Fields{
		"chainId":  chainID.String(),
		"registry": registryAddr.Hex(),
		"ledger":   ledgerAddr.Hex(),
		"signer":   crypto.PubkeyToAddress(signingKey.PublicKey).Hex(),
	}).Info("vault started")
	return nil
}

// Close releases the ledger connection and the local index. Safe to call
// more than once.
func (v *Vault) Close() error {
	var closeErr error
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		if v.names != nil {
			closeErr = v.names.Close()
		}
		if v.eth != nil {
			v.eth.Close()
		}
		v.log.Info("vault closed")
	})
	return closeErr
}

func (v *Vault) ready() error {
	if v.closed.Load() {
		return ErrClosed
	}
	if !v.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// UploadRecord encrypts and stores file bytes and registers the record for
// the patient.
func (v *Vault) UploadRecord(ctx context.Context, patient, recordType string, file []byte, filename string) (records.UploadResult, error) {
	if err := v.ready(); err != nil {
		return records.UploadResult{}, err
	}
	return v.records.Upload(ctx, patient, recordType, file, filename)
}

// ListRecords returns the patient's records as seen by requester.
func (v *Vault) ListRecords(ctx context.Context, patient, requester string) ([]records.RecordView, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	return v.records.List(ctx, patient, requester)
}

// ViewRecord fetches and decrypts one record for an authorized requester.
func (v *Vault) ViewRecord(ctx context.Context, cid, patient, requester string) (records.Content, error) {
	if err := v.ready(); err != nil {
		return records.Content{}, err
	}
	return v.records.View(ctx, cid, patient, requester)
}

// GrantPermanent gives doctor open-ended access to the patient's records.
func (v *Vault) GrantPermanent(ctx context.Context, patient, doctor string) (string, error) {
	if err := v.ready(); err != nil {
		return "", err
	}
	return v.access.GrantPermanent(ctx, patient, doctor)
}

// GrantTemporary gives doctor access that lapses after duration.
func (v *Vault) GrantTemporary(ctx context.Context, patient, doctor string, duration time.Duration) (string, error) {
	if err := v.ready(); err != nil {
		return "", err
	}
	return v.access.GrantTemporary(ctx, patient, doctor, duration)
}

// Revoke removes doctor's access to the patient's records.
func (v *Vault) Revoke(ctx context.Context, patient, doctor string) (string, error) {
	if err := v.ready(); err != nil {
		return "", err
	}
	return v.access.Revoke(ctx, patient, doctor)
}

// GrantWithSignature relays a patient-signed grant.
func (v *Vault) GrantWithSignature(ctx context.Context, auth access.MetaAuthorization) (string, error) {
	if err := v.ready(); err != nil {
		return "", err
	}
	return v.access.GrantWithSignature(ctx, auth)
}

// RevokeWithSignature relays a patient-signed revocation.
func (v *Vault) RevokeWithSignature(ctx context.Context, auth access.MetaAuthorization) (string, error) {
	if err := v.ready(); err != nil {
		return "", err
	}
	return v.access.RevokeWithSignature(ctx, auth)
}

// CheckAccess reports whether requester may read the patient's records.
func (v *Vault) CheckAccess(ctx context.Context, patient, requester string) (bool, error) {
	if err := v.ready(); err != nil {
		return false, err
	}
	return v.access.CheckAccess(ctx, patient, requester)
}
