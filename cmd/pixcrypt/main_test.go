package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bodgit/pixcrypt/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	out := new(bytes.Buffer)
	app.Writer = out
	app.ErrWriter = new(bytes.Buffer)
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"pixcrypt"}, args...))
	return out.String(), err
}

func newTestEndpoint(t *testing.T) string {
	t.Helper()
	db, err := server.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := server.New(db, server.WithAutoConfirm(1))
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return srv.URL
}

func writeConfig(t *testing.T, dir, endpoint string) string {
	t.Helper()
	path := filepath.Join(dir, "pixcrypt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: "+endpoint+"\npayment:\n  interval: 10ms\n"), 0o644))
	return path
}

func TestEncryptBuyDecrypt(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, newTestEndpoint(t))

	out, err := run(t, "--config", cfg, "encrypt", "--text", "  Hi.\nBye  ", "--name", "notes", "--fold", "--buy", "--out", dir)
	require.NoError(t, err)

	img := filepath.Join(dir, "notes_encrypted.png")
	tok := filepath.Join(dir, "Auth_token_for_notes.png")
	assert.Contains(t, out, img)
	assert.Contains(t, out, tok)
	assert.Contains(t, out, "Pay $0.60 USD at ")
	assert.FileExists(t, img)
	assert.FileExists(t, tok)

	out, err = run(t, "decrypt", "--out", "-", img, tok)
	require.NoError(t, err)
	assert.Equal(t, "hi.\nbye", out)

	out, err = run(t, "decrypt", "--out", dir, img, tok)
	require.NoError(t, err)
	written := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(filepath.Base(written), "decoded_"))
	b, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Equal(t, "hi.\nbye", string(b))
}

func TestEncryptFilesThenToken(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, newTestEndpoint(t))
	sessions := filepath.Join(dir, "sessions.db")

	src := filepath.Join(dir, "letter.txt")
	require.NoError(t, os.WriteFile(src, []byte("dear you,\nhello."), 0o644))

	encOut, err := run(t, "--config", cfg, "--sessions", sessions, "encrypt", "--out", dir, src)
	require.NoError(t, err)
	assert.Contains(t, encOut, filepath.Join(dir, "letter_encrypted.png"))

	out, err := run(t, "--config", cfg, "--sessions", sessions, "sessions")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)
	id := fields[0]
	assert.Contains(t, out, "letter")

	// encrypt told the user how to buy the token later
	assert.Contains(t, encOut, "run \"pixcrypt token "+id+"\" to buy the token")

	out, err = run(t, "--config", cfg, "--sessions", sessions, "token", "--out", dir, id)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "Auth_token_for_letter.png"))

	out, err = run(t, "decrypt", "--out", "-", filepath.Join(dir, "letter_encrypted.png"), filepath.Join(dir, "Auth_token_for_letter.png"))
	require.NoError(t, err)
	assert.Equal(t, "dear you,\nhello.", out)

	// The token has already been delivered
	_, err = run(t, "--config", cfg, "--sessions", sessions, "token", "--out", dir, id)
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, newTestEndpoint(t))

	_, err := run(t, "--config", cfg, "encrypt", "--text", "preview me", "--name", "p", "--out", dir)
	require.NoError(t, err)
	img := filepath.Join(dir, "p_encrypted.png")

	for _, args := range [][]string{
		{"preview", "--out", filepath.Join(dir, "thumb.png"), img},
		{"preview", "--scramble", "--out", filepath.Join(dir, "scrambled.png"), img},
	} {
		_, err := run(t, args...)
		require.NoError(t, err)
	}
	assert.FileExists(t, filepath.Join(dir, "thumb.png"))
	assert.FileExists(t, filepath.Join(dir, "scrambled.png"))
}

func TestEncryptWithoutSavedSessions(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, newTestEndpoint(t))

	app := newApp()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	app.Writer = out
	app.ErrWriter = errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	require.NoError(t, app.Run([]string{"pixcrypt", "--config", cfg, "encrypt", "--text", "lost", "--name", "m", "--out", dir}))
	assert.NotContains(t, out.String(), "pixcrypt token")
	assert.Contains(t, errOut.String(), "sessions are not saved")
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "--endpoint", "ftp://nope", "encrypt", "--text", "x")
	assert.Error(t, err)

	_, err = run(t, "encrypt", "--format", "jpeg", "--text", "x")
	assert.Error(t, err)

	_, err = run(t, "decrypt", filepath.Join(dir, "missing.png"), filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestDecodedPath(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(1700000000000)

	p, err := decodedPath(dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "decoded_1700000000000.txt"), p)

	p, err = decodedPath(filepath.Join(dir, "out.txt"), now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.txt"), p)
}
