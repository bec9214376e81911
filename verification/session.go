// Package verification lets any holder of a document token confirm its
// authenticity by token lookup, hash comparison and PDF re-upload. The
// three operations keep separate state and never block one another.
package verification

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AnTengye/contractsign/model"
	"github.com/AnTengye/contractsign/pkg/logger"
)

var (
	ErrEmptyToken       = errors.New("verification: empty token")
	ErrNoActiveDocument = errors.New("verification: no document looked up")
	ErrMalformedHash    = errors.New("verification: malformed sha-256 hash")
	ErrNotPDF           = errors.New("verification: file is not a pdf")
	ErrPDFTooLarge      = errors.New("verification: pdf too large")
	ErrClosed           = errors.New("verification: session closed")
	ErrDocumentChanged  = errors.New("verification: active document changed")
)

const (
	lookupFallbackMessage = "Could not verify this document right now. Please try again."
	checkFallbackMessage  = "Could not complete the check. Please try again."
	notFoundMessage       = "No document was found for this token."
	noDocumentMessage     = "Look up a document before running this check."
	malformedHashMessage  = "Enter a SHA-256 hash with 64 hexadecimal characters."
	notPDFMessage         = "The selected file is not a PDF."
	tooLargeMessage       = "The selected PDF is too large."
)

const defaultMaxPDFBytes = 20 << 20

// API is the part of the MR3X API the session calls
type API interface {
	LookupVerification(ctx context.Context, token string, docType model.DocumentType) (*model.VerificationResult, error)
	VerifyHash(ctx context.Context, token string, docType model.DocumentType, hash string) (*model.VerificationResult, error)
	VerifyPDF(ctx context.Context, token string, docType model.DocumentType, filename string, pdf io.Reader) (*model.VerificationResult, error)
}

// Archive keeps a copy of uploaded PDFs. Failures never affect a check.
type Archive interface {
	Store(ctx context.Context, token, filename string, data []byte) error
}

type Options struct {
	MaxPDFBytes int64
	Archive     Archive
}

// Phase is the state of one sub-machine
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePending  Phase = "pending"
	PhaseFound    Phase = "found"
	PhaseNotFound Phase = "not_found"
	PhaseValid    Phase = "valid"
	PhaseInvalid  Phase = "invalid"
	PhaseFailed   Phase = "failed"
)

// LookupState is the primary token lookup. LastFound is the most recent
// successful result and survives later failed or pending lookups.
type LookupState struct {
	Phase     Phase                     `json:"phase"`
	Token     string                    `json:"token,omitempty"`
	Type      model.DocumentType        `json:"type,omitempty"`
	Result    *model.VerificationResult `json:"result,omitempty"`
	LastFound *model.VerificationResult `json:"lastFound,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// CheckState is a hash or PDF check. PhaseInvalid is a verified negative
// answer; PhaseFailed means the check could not be performed.
type CheckState struct {
	Phase    Phase                     `json:"phase"`
	Result   *model.VerificationResult `json:"result,omitempty"`
	Mismatch bool                      `json:"mismatch,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// Snapshot is an immutable view of a Session
type Snapshot struct {
	ActiveToken string             `json:"activeToken,omitempty"`
	ActiveType  model.DocumentType `json:"activeType,omitempty"`
	Lookup      LookupState        `json:"lookup"`
	Hash        CheckState         `json:"hash"`
	PDF         CheckState         `json:"pdf"`
}

type check struct {
	mu    sync.Mutex
	seq   int
	state CheckState
}

func newCheck() *check {
	return &check{state: CheckState{Phase: PhaseIdle}}
}

func (c *check) begin() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.state = CheckState{Phase: PhasePending, Result: c.state.Result}
	return c.seq
}

func (c *check) finish(seq int, st CheckState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		return
	}
	c.state = st
}

// fail records a local failure that never reached the network
func (c *check) fail(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.state = CheckState{Phase: PhaseFailed, Error: msg}
}

func (c *check) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.state = CheckState{Phase: PhaseIdle}
}

func (c *check) snapshot() CheckState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	st.Result = st.Result.Clone()
	return st
}

// Session is the per-page verification controller
type Session struct {
	api    API
	opts   Options
	closed atomic.Bool

	lookupMu  sync.Mutex
	lookupSeq int
	lookup    LookupState

	activeMu    sync.RWMutex
	activeToken string
	activeType  model.DocumentType

	hash *check
	pdf  *check
}

func NewSession(api API, opts Options) *Session {
	if opts.MaxPDFBytes <= 0 {
		opts.MaxPDFBytes = defaultMaxPDFBytes
	}
	return &Session{
		api:    api,
		opts:   opts,
		lookup: LookupState{Phase: PhaseIdle},
		hash:   newCheck(),
		pdf:    newCheck(),
	}
}

// Lookup resolves token, optionally scoped by typeHint; AUTO leaves type
// detection to the server. A failed lookup keeps the previous active
// document and the hash and PDF results.
func (s *Session) Lookup(ctx context.Context, token string, typeHint model.DocumentType) (*model.VerificationResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	token = strings.TrimSpace(token)
	if typeHint == "" {
		typeHint = model.DocumentAuto
	}

	s.lookupMu.Lock()
	s.lookupSeq++
	seq := s.lookupSeq
	if token == "" {
		s.lookup = LookupState{Phase: PhaseFailed, Type: typeHint, LastFound: s.lookup.LastFound, Error: "Enter a document token."}
		s.lookupMu.Unlock()
		return nil, ErrEmptyToken
	}
	s.lookup = LookupState{Phase: PhasePending, Token: token, Type: typeHint, LastFound: s.lookup.LastFound}
	s.lookupMu.Unlock()

	logger.Info(ctx, "document lookup", "token", token, "type", typeHint)
	result, err := s.api.LookupVerification(ctx, token, typeHint)

	if s.closed.Load() {
		return result, err
	}

	s.lookupMu.Lock()
	defer s.lookupMu.Unlock()
	if seq != s.lookupSeq {
		return result, err
	}

	if err != nil {
		st := LookupState{
			Phase:     PhaseFailed,
			Token:     token,
			Type:      typeHint,
			LastFound: s.lookup.LastFound,
			Error:     model.UserMessage(err, lookupFallbackMessage),
		}
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			st.Phase = PhaseNotFound
			if apiErr.Message == "" {
				st.Error = notFoundMessage
			}
		}
		s.lookup = st
		logger.Warn(ctx, "document lookup failed", "token", token, "error", err)
		return nil, fmt.Errorf("lookup %s: %w", token, err)
	}

	found := result.Clone()
	s.lookup = LookupState{Phase: PhaseFound, Token: token, Type: typeHint, Result: found, LastFound: found}

	s.activeMu.Lock()
	changed := s.activeToken != token || s.activeType != typeHint
	s.activeToken = token
	s.activeType = typeHint
	s.activeMu.Unlock()

	if changed {
		s.hash.reset()
		s.pdf.reset()
	}
	return result, nil
}

func (s *Session) active() (string, model.DocumentType) {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.activeToken, s.activeType
}

// beginCheck starts c only while token is still the active document
func (s *Session) beginCheck(c *check, token string, docType model.DocumentType) (int, bool) {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	if s.activeToken != token || s.activeType != docType {
		return 0, false
	}
	return c.begin(), true
}

// NormalizeHash trims and lower-cases a SHA-256 hex digest
func NormalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	if len(h) != 64 {
		return "", ErrMalformedHash
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", ErrMalformedHash
	}
	return h, nil
}

// VerifyHash compares a SHA-256 digest with the one stored for the active
// document. A mismatch is a normal result, not an error.
func (s *Session) VerifyHash(ctx context.Context, hash string) (*model.VerificationResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	token, docType := s.active()
	if token == "" {
		s.hash.fail(noDocumentMessage)
		return nil, ErrNoActiveDocument
	}
	normalized, err := NormalizeHash(hash)
	if err != nil {
		s.hash.fail(malformedHashMessage)
		return nil, err
	}

	seq, ok := s.beginCheck(s.hash, token, docType)
	if !ok {
		return nil, ErrDocumentChanged
	}
	result, err := s.api.VerifyHash(ctx, token, docType, normalized)
	return s.complete(ctx, s.hash, seq, "hash", token, result, err)
}

// VerifyPDF uploads a PDF so the server can recompute and compare its hash
func (s *Session) VerifyPDF(ctx context.Context, filename string, file io.Reader) (*model.VerificationResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	token, docType := s.active()
	if token == "" {
		s.pdf.fail(noDocumentMessage)
		return nil, ErrNoActiveDocument
	}

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxPDFBytes+1))
	if err != nil {
		s.pdf.fail(checkFallbackMessage)
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if int64(len(data)) > s.opts.MaxPDFBytes {
		s.pdf.fail(tooLargeMessage)
		return nil, ErrPDFTooLarge
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		s.pdf.fail(notPDFMessage)
		return nil, ErrNotPDF
	}
	if filename == "" {
		filename = "document.pdf"
	}

	seq, ok := s.beginCheck(s.pdf, token, docType)
	if !ok {
		return nil, ErrDocumentChanged
	}
	if s.opts.Archive != nil {
		go s.archive(context.WithoutCancel(ctx), token, filename, data)
	}
	result, err := s.api.VerifyPDF(ctx, token, docType, filename, bytes.NewReader(data))
	return s.complete(ctx, s.pdf, seq, "pdf", token, result, err)
}

func (s *Session) archive(ctx context.Context, token, filename string, data []byte) {
	if err := s.opts.Archive.Store(ctx, token, filename, data); err != nil {
		logger.Warn(ctx, "pdf archive failed", "token", token, "error", err)
	}
}

func (s *Session) complete(ctx context.Context, c *check, seq int, kind, token string, result *model.VerificationResult, err error) (*model.VerificationResult, error) {
	if s.closed.Load() {
		return result, err
	}
	if err != nil {
		c.finish(seq, CheckState{Phase: PhaseFailed, Error: model.UserMessage(err, checkFallbackMessage)})
		logger.Warn(ctx, "verification check failed", "kind", kind, "token", token, "error", err)
		return nil, fmt.Errorf("%s check %s: %w", kind, token, err)
	}

	r := result.Clone()
	st := CheckState{Phase: PhaseInvalid, Result: r, Mismatch: r.IsMismatch()}
	if r.Valid {
		st.Phase = PhaseValid
	}
	c.finish(seq, st)
	logger.Info(ctx, "verification check done", "kind", kind, "token", token, "valid", r.Valid)
	return result, nil
}

// Close abandons the session; results arriving afterwards are dropped
func (s *Session) Close() {
	s.closed.Store(true)
}

// Snapshot returns the current state of all three sub-machines
func (s *Session) Snapshot() Snapshot {
	token, docType := s.active()

	s.lookupMu.Lock()
	lookup := s.lookup
	s.lookupMu.Unlock()
	lookup.Result = lookup.Result.Clone()
	lookup.LastFound = lookup.LastFound.Clone()

	return Snapshot{
		ActiveToken: token,
		ActiveType:  docType,
		Lookup:      lookup,
		Hash:        s.hash.snapshot(),
		PDF:         s.pdf.snapshot(),
	}
}
