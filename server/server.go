/*
Package server is a self-contained implementation of the encryption and
payment services that pixcrypt talks to.

It is intended for development and testing. Charges are never sent to a real
payment processor; a charge is settled by posting to its hosted page, or
automatically after a configurable number of status checks.

Every session gets its own color key, derived from a server secret and the
session ID with HKDF, so nothing about the key needs to be stored.
*/
package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/client"
	"github.com/bodgit/pixcrypt/clock"
	"github.com/bodgit/pixcrypt/codec"
	"github.com/bodgit/pixcrypt/image"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultPrice is shown alongside every hosted payment page
	DefaultPrice = "$0.60"

	secretSize = 32

	// Escaping a control character takes six bytes
	maxBody = 6*client.MaxText + 1<<12
)

var keyInfo = []byte("pixcrypt.session.key.v1")

// Server implements the collaborator HTTP API
type Server struct {
	db          *DB
	alphabet    *alphabet.Alphabet
	secret      []byte
	price       string
	autoConfirm int
	publicURL   string
	clock       clock.Clock
	logger      hclog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithAlphabet sets the alphabet sessions are encrypted with
func WithAlphabet(a *alphabet.Alphabet) Option {
	return func(s *Server) {
		s.alphabet = a
	}
}

// WithSecret sets the secret session keys are derived from. Without it a
// random secret is used and keys do not survive a restart.
func WithSecret(secret []byte) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithPrice sets the price shown for a token
func WithPrice(price string) Option {
	return func(s *Server) {
		s.price = price
	}
}

// WithAutoConfirm settles a charge on its nth status check. Zero disables
// it.
func WithAutoConfirm(n int) Option {
	return func(s *Server) {
		s.autoConfirm = n
	}
}

// WithPublicURL sets the base of hosted payment URLs. By default it is taken
// from the request.
func WithPublicURL(u string) Option {
	return func(s *Server) {
		s.publicURL = strings.TrimSuffix(u, "/")
	}
}

// WithClock sets the clock used to timestamp sessions
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(logger hclog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New returns a Server storing its state in db
func New(db *DB, opts ...Option) (*Server, error) {
	s := &Server{
		db:       db,
		alphabet: alphabet.Reference,
		price:    DefaultPrice,
		clock:    clock.Real(),
		logger:   hclog.NewNullLogger(),
	}
	for _, o := range opts {
		o(s)
	}

	if len(s.secret) == 0 {
		s.secret = make([]byte, secretSize)
		if _, err := rand.Read(s.secret); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Table returns the color table issued to a session
func (s *Server) Table(sessionID string) (*codec.Table, error) {
	r := hkdf.New(sha256.New, s.secret, nil, append(append([]byte{}, keyInfo...), sessionID...))
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("server: key derivation: %w", err)
	}
	return codec.NewTable(s.alphabet, binary.BigEndian.Uint32(b[:])), nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/encrypt", s.encrypt)
		r.Post("/create-payment", s.createPayment)
		r.Get("/check-payment/{chargeID}", s.checkPayment)
		r.Post("/download-token", s.downloadToken)
	})

	r.Get("/pay/{chargeID}", s.payPage)
	r.Post("/pay/{chargeID}", s.pay)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "bytes", ww.BytesWritten(), "duration", time.Since(start), "id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Server) encrypt(w http.ResponseWriter, r *http.Request) {
	var req client.EncryptRequest
	if !decode(w, r, &req) {
		return
	}

	if len(req.Text) > client.MaxText {
		writeError(w, http.StatusRequestEntityTooLarge, client.ErrTextTooLarge)
		return
	}

	id := s.newID()
	t, err := s.Table(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	g, err := image.Render(req.Text, t)
	if err != nil {
		var ue *image.UnmappedError
		switch {
		case errors.Is(err, image.ErrEmpty):
			writeError(w, http.StatusBadRequest, err)
		case errors.As(err, &ue):
			writeError(w, http.StatusUnprocessableEntity, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	name := "document_" + id[:8]
	if req.OriginalFileName != nil && *req.OriginalFileName != "" {
		name = strings.TrimSuffix(*req.OriginalFileName, ".txt")
	}

	if err := s.db.addSession(r.Context(), sessionRow{ID: id, FileName: name, CreatedAt: s.clock.Now()}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	b := g.Bounds()
	s.logger.Info("session created", "session", id, "file", name, "width", b.Dx(), "height", b.Dy())

	writeJSON(w, http.StatusOK, client.EncryptResponse{
		SessionID: id,
		FileName:  name,
		EncryptedImage: client.EncryptedImage{
			Width:  b.Dx(),
			Height: b.Dy(),
			Pixels: g.CSS(),
		},
	})
}

func (s *Server) hostedURL(r *http.Request, chargeID string) string {
	base := s.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/pay/" + chargeID
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	var req client.PaymentRequest
	if !decode(w, r, &req) {
		return
	}

	if _, err := s.db.findSession(r.Context(), req.SessionID); err != nil {
		s.storeError(w, err)
		return
	}

	id := s.newID()
	if err := s.db.addCharge(r.Context(), chargeRow{ID: id, SessionID: req.SessionID, Status: StatusNew}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("charge created", "session", req.SessionID, "charge", id)

	writeJSON(w, http.StatusOK, client.Charge{
		ChargeID:  id,
		HostedURL: s.hostedURL(r, id),
		Price:     s.price,
	})
}

type paymentEntry struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

func (s *Server) checkPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chargeID")

	c, err := s.db.checkCharge(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	if s.autoConfirm > 0 && c.Checks >= s.autoConfirm && c.Status != StatusCompleted {
		if err := s.db.settleCharge(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.logger.Info("charge settled automatically", "charge", id, "checks", c.Checks)
		if c, err = s.db.findCharge(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	payments := make([]paymentEntry, c.Payments)
	for i := range payments {
		payments[i] = paymentEntry{ID: fmt.Sprintf("%s-%d", id, i+1), Amount: s.price}
	}

	writeJSON(w, http.StatusOK, struct {
		Status   string         `json:"status"`
		Payments []paymentEntry `json:"payments"`
	}{c.Status, payments})
}

func (s *Server) downloadToken(w http.ResponseWriter, r *http.Request) {
	var req client.TokenRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := s.db.findCharge(r.Context(), req.ChargeID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if c.SessionID != req.SessionID {
		writeError(w, http.StatusBadRequest, errors.New("charge does not belong to session"))
		return
	}
	if c.Status != StatusCompleted && c.Payments == 0 {
		writeError(w, http.StatusPaymentRequired, errors.New("payment not confirmed"))
		return
	}

	sess, err := s.db.findSession(r.Context(), req.SessionID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	t, err := s.Table(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	colors := make([]string, 0, t.Len())
	for _, col := range t.Colors() {
		colors = append(colors, col.Hex())
	}

	s.logger.Info("token delivered", "session", sess.ID, "charge", c.ID)

	writeJSON(w, http.StatusOK, client.TokenResponse{
		TokenData: colors,
		FileName:  sess.FileName,
		Alphabet:  s.alphabet.Version(),
	})
}

var payTemplate = template.Must(template.New("pay").Parse(`<!DOCTYPE html>
<html>
<head><title>Pay for token</title></head>
<body>
<h1>Decryption token</h1>
<p>{{.Price}} USD</p>
<p>Status: {{.Status}}</p>
{{if not .Paid}}<form method="post" action="/pay/{{.ID}}"><button type="submit">Pay</button></form>{{end}}
</body>
</html>
`))

func (s *Server) payPage(w http.ResponseWriter, r *http.Request) {
	c, err := s.db.findCharge(r.Context(), chi.URLParam(r, "chargeID"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	payTemplate.Execute(w, struct {
		ID     string
		Price  string
		Status string
		Paid   bool
	}{c.ID, s.price, c.Status, c.Status == StatusCompleted})
}

func (s *Server) pay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chargeID")
	if err := s.db.settleCharge(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}

	s.logger.Info("charge settled", "charge", id)

	writeJSON(w, http.StatusOK, map[string]string{"status": StatusCompleted})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// ListenAndServe serves the API on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
