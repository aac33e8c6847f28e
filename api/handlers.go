package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/medblocks/medvault/internal/access"
	"github.com/medblocks/medvault/pkg/faults"
)

type uploadResponse struct {
	Cid      string `json:"cid"`
	TxHash   string `json:"tx_hash"`
	Filename string `json:"filename,omitempty"`
}

type recordResponse struct {
	Cid          string `json:"cid"`
	RecordType   string `json:"record_type"`
	Timestamp    int64  `json:"timestamp"`
	AddedBy      string `json:"added_by"`
	Filename     string `json:"filename"`
	RetrievalURL string `json:"retrieval_url"`
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
}

type checkResponse struct {
	HasAccess bool `json:"has_access"`
}

type grantRequest struct {
	Patient         string `json:"patient_address"`
	Doctor          string `json:"doctor_address"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

type signedRequest struct {
	Patient   string `json:"patient_address"`
	Doctor    string `json:"doctor_address"`
	Permanent bool   `json:"permanent"`
	Expiry    uint64 `json:"expiry"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: parse multipart form: %v", errBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: a file part is required", errBadRequest))
		return
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	result, err := s.vault.UploadRecord(r.Context(),
		r.FormValue("patient_address"), r.FormValue("record_type"), body, header.Filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, uploadResponse{
		Cid:      result.Cid,
		TxHash:   result.TxHash,
		Filename: result.Filename,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	patient := mux.Vars(r)["patient"]
	requester := r.URL.Query().Get("requester_address")

	views, err := s.vault.ListRecords(r.Context(), patient, requester)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]recordResponse, 0, len(views))
	for _, view := range views {
		out = append(out, recordResponse{
			Cid:          view.Cid,
			RecordType:   view.RecordType,
			Timestamp:    view.Timestamp.Unix(),
			AddedBy:      view.AddedBy,
			Filename:     view.Filename,
			RetrievalURL: view.RetrievalURL,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["cid"]
	patient := r.URL.Query().Get("patient_address")
	requester := r.URL.Query().Get("requester_address")

	content, err := s.vault.ViewRecord(r.Context(), cid, patient, requester)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Decrypted record bodies must never land in shared caches.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", content.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", content.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content.Bytes); err != nil {
		s.log.Warnf("write record body: %v", err)
	}
}

func (s *Server) handleGrantPermanent(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.vault.GrantPermanent(r.Context(), req.Patient, req.Doctor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: tx})
}

func (s *Server) handleGrantTemporary(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	duration := time.Duration(req.DurationSeconds) * time.Second
	tx, err := s.vault.GrantTemporary(r.Context(), req.Patient, req.Doctor, duration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: tx})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.vault.Revoke(r.Context(), req.Patient, req.Doctor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: tx})
}

func (s *Server) handleGrantSigned(w http.ResponseWriter, r *http.Request) {
	auth, err := s.decodeSigned(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.vault.GrantWithSignature(r.Context(), auth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: tx})
}

func (s *Server) handleRevokeSigned(w http.ResponseWriter, r *http.Request) {
	auth, err := s.decodeSigned(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.vault.RevokeWithSignature(r.Context(), auth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: tx})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	patient := r.URL.Query().Get("patient_address")
	requester := r.URL.Query().Get("requester_address")

	ok, err := s.vault.CheckAccess(r.Context(), patient, requester)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkResponse{HasAccess: ok})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decodeSigned(r *http.Request) (access.MetaAuthorization, error) {
	var req signedRequest
	if err := decodeJSON(r, &req); err != nil {
		return access.MetaAuthorization{}, err
	}
	signature := common.FromHex(req.Signature)
	if len(signature) == 0 {
		return access.MetaAuthorization{}, fmt.Errorf("%w: signature must be hex encoded", faults.ErrInvalidSignature)
	}
	return access.MetaAuthorization{
		Patient:   req.Patient,
		Doctor:    req.Doctor,
		Permanent: req.Permanent,
		Expiry:    req.Expiry,
		Nonce:     req.Nonce,
		Signature: signature,
	}, nil
}

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// writeError maps the typed faults to status codes. Anything unclassified
// is a 500, logged with the full chain; the response carries only the kind
// and the message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var kind string
	switch {
	case errors.Is(err, errBadRequest):
		status, kind = http.StatusBadRequest, "bad_request"
	case errors.Is(err, faults.ErrInvalidIdentity):
		status, kind = http.StatusBadRequest, "invalid_identity"
	case errors.Is(err, faults.ErrInvalidDuration):
		status, kind = http.StatusBadRequest, "invalid_duration"
	case errors.Is(err, faults.ErrInvalidSignature):
		status, kind = http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, faults.ErrUnauthorized):
		status, kind = http.StatusForbidden, "unauthorized"
	case errors.Is(err, faults.ErrContentNotFound):
		status, kind = http.StatusNotFound, "content_not_found"
	case errors.Is(err, faults.ErrChainConnection):
		status, kind = http.StatusBadGateway, "chain_unavailable"
	case errors.Is(err, faults.ErrSubmission):
		status, kind = http.StatusBadGateway, "submission_failed"
	default:
		status, kind = http.StatusInternalServerError, "internal"
	}

	if status >= http.StatusInternalServerError {
		s.log.WithField("path", r.URL.Path).Errorf("request failed: %v", err)
	}
	s.writeJSON(w, status, errorResponse{Error: kind, Detail: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warnf("encode response: %v", err)
	}
}
