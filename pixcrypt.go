/*
Package pixcrypt is a library for turning text into a pair of images: a main
image with one colored pixel per character, and a token image holding the
colors needed to read it back. The token is only released once it has been
paid for.
*/
package pixcrypt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/image"
	"github.com/bodgit/pixcrypt/payment"
	"github.com/bodgit/pixcrypt/session"
	"github.com/bodgit/pixcrypt/token"
	"github.com/hashicorp/go-hclog"
)

// SourceName returns the artifact name for a source file: its base name with
// any .txt extension removed
func SourceName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".txt")
}

// EncryptedName is the file name of the main image for name
func EncryptedName(name string, f image.Format) string {
	return name + "_encrypted" + f.Extension()
}

// TokenName is the file name of the token image for name
func TokenName(name string) string {
	return "Auth_token_for_" + name + ".png"
}

// DecodedName is the file name decoded text is written to
func DecodedName(t time.Time) string {
	return "decoded_" + strconv.FormatInt(t.UnixMilli(), 10) + ".txt"
}

// Vault encrypts text and buys the tokens to decrypt it
type Vault struct {
	sessions *session.Manager
	runner   *payment.Runner
	format   image.Format
	logger   hclog.Logger
}

// New returns a Vault. A nil logger discards everything.
func New(sessions *session.Manager, runner *payment.Runner, logger hclog.Logger) *Vault {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Vault{
		sessions: sessions,
		runner:   runner,
		format:   image.PNG,
		logger:   logger,
	}
}

// SetFormat sets the format main images are written in
func (v *Vault) SetFormat(f image.Format) {
	v.format = f
}

// Format returns the format main images are written in
func (v *Vault) Format() image.Format {
	return v.format
}

// Encrypt encrypts text and writes the main image to w
func (v *Vault) Encrypt(ctx context.Context, text, name string, w io.Writer) (*session.Session, error) {
	s, g, err := v.sessions.Create(ctx, text, name)
	if err != nil {
		return nil, err
	}
	if err := image.Encode(w, g, v.format); err != nil {
		return nil, err
	}
	return s, nil
}

// EncryptFile encrypts the file at path and writes the main image into dir.
// The path of the image is returned.
func (v *Vault) EncryptFile(ctx context.Context, path, dir string) (*session.Session, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	buf := new(bytes.Buffer)
	s, err := v.Encrypt(ctx, string(b), SourceName(path), buf)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}

	out := filepath.Join(dir, EncryptedName(s.FileName, v.format))
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return nil, "", err
	}

	v.logger.Info("encrypted", "source", path, "image", out, "session", s.ID)

	return s, out, nil
}

// BuyToken pays for the token of a session and writes the token image to w
// once payment is confirmed. onCharge is called with the hosted payment
// page as soon as it exists.
func (v *Vault) BuyToken(ctx context.Context, sessionID string, onCharge func(payment.State), w io.Writer) (payment.State, *session.Token, error) {
	st, tok, err := v.runner.Run(ctx, sessionID, onCharge)
	if err != nil {
		return st, nil, err
	}
	if err := token.Encode(w, tok.Table); err != nil {
		return st, nil, err
	}
	return st, tok, nil
}

// BuyTokenFile is BuyToken writing the token image into dir. The path of
// the image is returned.
func (v *Vault) BuyTokenFile(ctx context.Context, sessionID, dir string, onCharge func(payment.State)) (payment.State, string, error) {
	buf := new(bytes.Buffer)
	st, tok, err := v.BuyToken(ctx, sessionID, onCharge, buf)
	if err != nil {
		return st, "", err
	}

	out := filepath.Join(dir, TokenName(tok.FileName))
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return st, "", err
	}

	v.logger.Info("token saved", "session", sessionID, "token", out)

	return st, out, nil
}

// Result is the outcome of a decryption
type Result struct {
	Text  string
	Stats image.Stats
	Token token.Info
}

// Decrypt reads a main image and its token and returns the text. Colors
// missing from the token do not cause an error but are counted in
// Result.Stats.
func Decrypt(main, key io.Reader, a *alphabet.Alphabet) (*Result, error) {
	t, info, err := token.Decode(key, a)
	if err != nil {
		return nil, err
	}

	g, err := image.Decode(main)
	if err != nil {
		return nil, err
	}

	text, stats := g.Text(t)

	return &Result{
		Text:  text,
		Stats: stats,
		Token: info,
	}, nil
}

// DecryptFiles is Decrypt reading from files
func DecryptFiles(mainPath, tokenPath string, a *alphabet.Alphabet) (*Result, error) {
	m, err := os.Open(mainPath)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	k, err := os.Open(tokenPath)
	if err != nil {
		return nil, err
	}
	defer k.Close()

	return Decrypt(m, k, a)
}
