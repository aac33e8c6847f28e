// Package api is the thin HTTP surface over a medvault.Vault. Handlers
// parse and validate the wire shape, delegate to the vault, and translate
// the typed faults to status codes; no domain logic lives here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault/internal/access"
	"github.com/medblocks/medvault/internal/records"
)

// maxUploadBytes bounds a single record upload body.
const maxUploadBytes = 50 << 20

// Backend is the vault surface the handlers call. *medvault.Vault
// satisfies it.
type Backend interface {
	UploadRecord(ctx context.Context, patient, recordType string, file []byte, filename string) (records.UploadResult, error)
	ListRecords(ctx context.Context, patient, requester string) ([]records.RecordView, error)
	ViewRecord(ctx context.Context, cid, patient, requester string) (records.Content, error)
	GrantPermanent(ctx context.Context, patient, doctor string) (string, error)
	GrantTemporary(ctx context.Context, patient, doctor string, duration time.Duration) (string, error)
	Revoke(ctx context.Context, patient, doctor string) (string, error)
	GrantWithSignature(ctx context.Context, auth access.MetaAuthorization) (string, error)
	RevokeWithSignature(ctx context.Context, auth access.MetaAuthorization) (string, error)
	CheckAccess(ctx context.Context, patient, requester string) (bool, error)
}

// Server routes HTTP requests to the vault.
type Server struct {
	router *mux.Router
	vault  Backend
	log    *logrus.Logger
}

// New returns a Server over the given vault.
func New(vault Backend, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router: mux.NewRouter(),
		vault:  vault,
		log:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/records/upload", s.handleUpload).Methods(http.MethodPost)
	s.router.HandleFunc("/records/view/{cid}", s.handleView).Methods(http.MethodGet)
	s.router.HandleFunc("/records/{patient}", s.handleList).Methods(http.MethodGet)

	s.router.HandleFunc("/access/grant/permanent", s.handleGrantPermanent).Methods(http.MethodPost)
	s.router.HandleFunc("/access/grant/temp", s.handleGrantTemporary).Methods(http.MethodPost)
	s.router.HandleFunc("/access/revoke", s.handleRevoke).Methods(http.MethodPost)
	s.router.HandleFunc("/access/grant/signed", s.handleGrantSigned).Methods(http.MethodPost)
	s.router.HandleFunc("/access/revoke/signed", s.handleRevokeSigned).Methods(http.MethodPost)
	s.router.HandleFunc("/access/check", s.handleCheck).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
