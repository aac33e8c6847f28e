// Package records orchestrates the record pipeline: upload couples
// encryption, content-addressed storage and ledger registration into one
// operation; retrieval re-checks authorization on every call before
// fetching and decrypting. A record is registered on the ledger only after
// its ciphertext is durably stored, so nothing ever appears in a listing
// without retrievable content.
package records

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault/internal/chain"
	"github.com/medblocks/medvault/internal/envelope"
	"github.com/medblocks/medvault/internal/identity"
	"github.com/medblocks/medvault/pkg/faults"
)

// Filename to report when the index has no entry for a content id.
const fallbackFilename = "document.pdf"

const fallbackMimeType = "application/octet-stream"

// ContentStore is the blob store surface the pipeline needs.
type ContentStore interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
	Fetch(ctx context.Context, cid string) ([]byte, error)
	GatewayURL(cid string) string
}

// Ledger is the RecordLedger surface the pipeline needs.
type Ledger interface {
	AddRecord(ctx context.Context, patient common.Address, cid, recordType string) (common.Hash, error)
	Records(ctx context.Context, patient common.Address) ([]chain.LedgerRecord, error)
}

// AccessChecker answers the authorization question, self-access included.
type AccessChecker interface {
	CheckAccess(ctx context.Context, patient, requester string) (bool, error)
}

// NameIndex is the advisory cid→filename mapping.
type NameIndex interface {
	Put(cid, filename string) error
	Get(cid string) (string, bool)
}

// UploadResult identifies a stored record.
type UploadResult struct {
	Cid      string
	TxHash   string
	Filename string
}

// RecordView is one listing entry, enriched with the advisory filename and
// a gateway retrieval reference.
type RecordView struct {
	Cid          string
	RecordType   string
	Timestamp    time.Time
	AddedBy      string
	Filename     string
	RetrievalURL string
}

// Content is a decrypted record body.
type Content struct {
	Bytes    []byte
	MimeType string
	Filename string
}

// Pipeline wires the collaborating services together.
type Pipeline struct {
	store    ContentStore
	ledger   Ledger
	access   AccessChecker
	envelope *envelope.Envelope
	names    NameIndex
	log      *logrus.Logger

	// Bounds concurrent encrypt/decrypt work so many large simultaneous
	// bodies cannot pile up in memory.
	cryptoSem chan struct{}
}

// New returns a Pipeline over the given collaborators.
func New(store ContentStore, ledger Ledger, access AccessChecker, env *envelope.Envelope, names NameIndex, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &Pipeline{
		store:     store,
		ledger:    ledger,
		access:    access,
		envelope:  env,
		names:     names,
		log:       logger,
		cryptoSem: make(chan struct{}, workers),
	}
}

// Upload encrypts file bytes, pins the ciphertext, and registers the
// record on the ledger. The filename is stored only in the local index,
// best-effort: an index failure never fails the upload. The ciphertext is
// pinned under an opaque name so the remote service never learns patient
// filenames.
func (p *Pipeline) Upload(ctx context.Context, patient, recordType string, file []byte, filename string) (UploadResult, error) {
	patientAddr, err := identity.Parse(patient)
	if err != nil {
		return UploadResult{}, err
	}
	if recordType == "" {
		return UploadResult{}, fmt.Errorf("records: record type is required")
	}

	ciphertext, err := p.encryptBounded(ctx, file)
	if err != nil {
		return UploadResult{}, err
	}

	cid, err := p.store.Upload(ctx, ciphertext, uuid.NewString()+".enc")
	if err != nil {
		return UploadResult{}, fmt.Errorf("store ciphertext: %w", err)
	}

	txHash, err := p.ledger.AddRecord(ctx, patientAddr, cid, recordType)
	if err != nil {
		// The pinned ciphertext is now orphaned; that is acceptable. The
		// reverse (a ledger entry without content) cannot happen from here.
		return UploadResult{}, fmt.Errorf("register record: %w", err)
	}

	if filename != "" {
		if nameErr := p.names.Put(cid, filename); nameErr != nil {
			p.log.WithField("cid", cid).Warnf("filename index write failed: %v", nameErr)
		}
	}

	p.log.WithFields(logrus.Fields{
		"patient": patientAddr.Hex(),
		"cid":     cid,
		"type":    recordType,
		"tx":      txHash.Hex(),
	}).Info("record uploaded")

	return UploadResult{Cid: cid, TxHash: txHash.Hex(), Filename: filename}, nil
}

// List returns the patient's ledger entries, authorization checked fresh.
func (p *Pipeline) List(ctx context.Context, patient, requester string) ([]RecordView, error) {
	patientAddr, err := identity.Parse(patient)
	if err != nil {
		return nil, err
	}
	if err := p.authorize(ctx, patient, requester); err != nil {
		return nil, err
	}

	rows, err := p.ledger.Records(ctx, patientAddr)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	views := make([]RecordView, 0, len(rows))
	for _, row := range rows {
		var ts time.Time
		if row.Timestamp != nil {
			ts = time.Unix(row.Timestamp.Int64(), 0).UTC()
		}
		views = append(views, RecordView{
			Cid:          row.Cid,
			RecordType:   row.RecordType,
			Timestamp:    ts,
			AddedBy:      row.AddedBy.Hex(),
			Filename:     p.filenameFor(row.Cid),
			RetrievalURL: p.store.GatewayURL(row.Cid),
		})
	}
	return views, nil
}

// View fetches and decrypts one record. Authorization is evaluated fresh
// on every call; nothing about the decision is cached. The decrypted bytes
// live only in the returned buffer.
func (p *Pipeline) View(ctx context.Context, cid, patient, requester string) (Content, error) {
	if _, err := identity.Parse(patient); err != nil {
		return Content{}, err
	}
	if err := p.authorize(ctx, patient, requester); err != nil {
		return Content{}, err
	}

	sealed, err := p.store.Fetch(ctx, cid)
	if err != nil {
		return Content{}, err
	}

	plain, err := p.decryptBounded(ctx, sealed)
	if err != nil {
		return Content{}, err
	}

	filename := p.filenameFor(cid)
	return Content{
		Bytes:    plain,
		MimeType: mimeTypeFor(filename),
		Filename: filename,
	}, nil
}

func (p *Pipeline) authorize(ctx context.Context, patient, requester string) error {
	ok, err := p.access.CheckAccess(ctx, patient, requester)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not read records of %s", faults.ErrUnauthorized, requester, patient)
	}
	return nil
}

func (p *Pipeline) encryptBounded(ctx context.Context, plaintext []byte) ([]byte, error) {
	select {
	case p.cryptoSem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("records: encrypt canceled: %w", ctx.Err())
	}
	defer func() { <-p.cryptoSem }()
	return p.envelope.Encrypt(plaintext)
}

func (p *Pipeline) decryptBounded(ctx context.Context, ciphertext []byte) ([]byte, error) {
	select {
	case p.cryptoSem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("records: decrypt canceled: %w", ctx.Err())
	}
	defer func() { <-p.cryptoSem }()
	return p.envelope.Decrypt(ciphertext)
}

func (p *Pipeline) filenameFor(cid string) string {
	if name, ok := p.names.Get(cid); ok && name != "" {
		return name
	}
	return fallbackFilename
}

func mimeTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fallbackMimeType
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return fallbackMimeType
}
