package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bodgit/pixcrypt"
	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/client"
	"github.com/bodgit/pixcrypt/config"
	"github.com/bodgit/pixcrypt/image"
	"github.com/bodgit/pixcrypt/payment"
	"github.com/bodgit/pixcrypt/preview"
	"github.com/bodgit/pixcrypt/server"
	"github.com/bodgit/pixcrypt/session"
	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newLogger(c *cli.Context, cfg *config.Config) hclog.Logger {
	level := hclog.LevelFromString(cfg.LogLevel)
	if c.Bool("verbose") {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "pixcrypt",
		Level:      level,
		Output:     c.App.ErrWriter,
		JSONFormat: os.Getenv("PIXCRYPT_JSON_LOG") == "1",
	})
}

// loadConfig reads the configuration file and applies any flags that were
// set on the command line over it
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("endpoint") {
		cfg.Endpoint = c.String("endpoint")
	}
	if c.IsSet("sessions") {
		cfg.Sessions = c.String("sessions")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	return cfg, cfg.Validate()
}

type env struct {
	vault  *pixcrypt.Vault
	store  *session.Store
	logger hclog.Logger
	// sessions are lost on exit
	memory bool
}

func (a *env) Close() error {
	return a.store.Close()
}

func openVault(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := newLogger(c, cfg)

	api, err := client.New(cfg.Endpoint, client.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}), client.WithLogger(logger.Named("client")))
	if err != nil {
		return nil, err
	}

	store, err := session.Open(cfg.Sessions)
	if err != nil {
		return nil, err
	}

	m := session.NewManager(store, api, session.WithMaxAge(cfg.SessionMaxAge), session.WithLogger(logger.Named("session")))
	r := payment.NewRunner(m, api, payment.WithConfig(cfg.Payment), payment.WithLogger(logger.Named("payment")))

	return &env{
		vault:  pixcrypt.New(m, r, logger),
		store:  store,
		logger: logger,
		memory: cfg.Sessions == session.Memory,
	}, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func showCharge(w io.Writer) func(payment.State) {
	return func(st payment.State) {
		price := st.Price
		if price == "" {
			price = server.DefaultPrice
		}
		fmt.Fprintf(w, "Pay %s USD at %s\nWaiting for confirmation...\n", price, st.HostedURL)
	}
}

func buyToken(ctx context.Context, c *cli.Context, a *env, sessionID, dir string) error {
	st, path, err := a.vault.BuyTokenFile(ctx, sessionID, dir, showCharge(c.App.Writer))
	if err != nil {
		switch st.Phase {
		case payment.TimedOut:
			return fmt.Errorf("payment not confirmed in time, run \"pixcrypt token %s\" to try again: %w", sessionID, err)
		case payment.Failed:
			return fmt.Errorf("payment failed, run \"pixcrypt token %s\" to try again: %w", sessionID, err)
		}
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func decodedPath(out string, now time.Time) (string, error) {
	if out == "" {
		out = "."
	}
	info, err := os.Stat(out)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(out, pixcrypt.DecodedName(now)), nil
	case err == nil, os.IsNotExist(err):
		return out, nil
	default:
		return "", err
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Name = "pixcrypt"
	app.Usage = "Hide text in images and pay to read it back"
	app.Version = "1.0.0"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"PIXCRYPT_CONFIG"},
			Usage:   "path to configuration file",
		},
		&cli.StringFlag{
			Name:    "endpoint",
			EnvVars: []string{"PIXCRYPT_ENDPOINT"},
			Usage:   "base URL of the encryption service",
		},
		&cli.StringFlag{
			Name:    "sessions",
			EnvVars: []string{"PIXCRYPT_SESSIONS"},
			Usage:   "path to session database, " + session.Memory + " keeps nothing",
		},
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"PIXCRYPT_LOG_LEVEL"},
			Usage:   "log level",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:        "encrypt",
			Usage:       "Encrypt text files into images",
			Description: "Each FILE is encrypted into NAME_encrypted.png. A directory encrypts every .txt file in it.",
			ArgsUsage:   "[FILE|DIRECTORY...]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "text",
					Usage: "encrypt this text instead of files",
				},
				&cli.StringFlag{
					Name:  "name",
					Usage: "name for the images when using --text",
				},
				&cli.StringFlag{
					Name:  "out",
					Value: ".",
					Usage: "directory to write images to",
				},
				&cli.StringFlag{
					Name:  "format",
					Value: "png",
					Usage: "image format: png, bmp or tiff (bmp needs the last line to be the longest)",
				},
				&cli.BoolFlag{
					Name:  "fold",
					Usage: "lower case the text first, not applied to directories",
				},
				&cli.BoolFlag{
					Name:  "buy",
					Usage: "buy the token straight away",
				},
				&cli.IntFlag{
					Name:  "workers",
					Value: 4,
					Usage: "files encrypted at once for a directory",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 && !c.IsSet("text") {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				f, err := image.FormatFromPath("x." + c.String("format"))
				if err != nil {
					return cli.Exit(err, 1)
				}

				a, err := openVault(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer a.Close()
				a.vault.SetFormat(f)

				ctx, cancel := signalContext(c)
				defer cancel()

				fold := func(s string) string {
					if c.Bool("fold") {
						return cases.Lower(language.Und).String(s)
					}
					return s
				}

				var sessions []string
				out := c.String("out")

				if c.IsSet("text") {
					text := fold(strings.TrimSpace(c.String("text")))
					e, err := writeEncrypted(ctx, a, text, c.String("name"), out)
					if err != nil {
						return cli.Exit(err, 1)
					}
					fmt.Fprintln(c.App.Writer, e.image)
					sessions = append(sessions, e.session)
				}

				for _, arg := range c.Args().Slice() {
					info, err := os.Stat(arg)
					if err != nil {
						return cli.Exit(err, 1)
					}

					if info.IsDir() {
						results, err := a.vault.EncryptDir(ctx, arg, out, c.Int("workers"))
						for _, r := range results {
							fmt.Fprintln(c.App.Writer, r.Image)
							sessions = append(sessions, r.SessionID)
						}
						if err != nil {
							return cli.Exit(err, 1)
						}
						continue
					}

					b, err := os.ReadFile(arg)
					if err != nil {
						return cli.Exit(err, 1)
					}
					e, err := writeEncrypted(ctx, a, fold(string(b)), pixcrypt.SourceName(arg), out)
					if err != nil {
						return cli.Exit(err, 1)
					}
					fmt.Fprintln(c.App.Writer, e.image)
					sessions = append(sessions, e.session)
				}

				if !c.Bool("buy") {
					if a.memory && len(sessions) > 0 {
						a.logger.Warn("sessions are not saved, use --sessions or --buy to be able to buy the tokens")
						return nil
					}
					for _, id := range sessions {
						fmt.Fprintf(c.App.Writer, "run \"pixcrypt token %s\" to buy the token\n", id)
					}
					return nil
				}

				for _, id := range sessions {
					if err := buyToken(ctx, c, a, id, out); err != nil {
						return cli.Exit(err, 1)
					}
				}

				return nil
			},
		},
		{
			Name:        "token",
			Usage:       "Buy the token for an encrypted image",
			Description: "Needs a session database shared with the encrypt run, see --sessions.",
			ArgsUsage:   "SESSION",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "out",
					Value: ".",
					Usage: "directory to write the token to",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				a, err := openVault(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer a.Close()

				ctx, cancel := signalContext(c)
				defer cancel()

				if err := buyToken(ctx, c, a, c.Args().First(), c.String("out")); err != nil {
					return cli.Exit(err, 1)
				}

				return nil
			},
		},
		{
			Name:        "sessions",
			Usage:       "List sessions",
			Description: "",
			Action: func(c *cli.Context) error {
				a, err := openVault(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer a.Close()

				list, err := a.store.List(c.Context)
				if err != nil {
					return cli.Exit(err, 1)
				}
				for _, s := range list {
					fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.State, s.FileName, s.ChargeStatus, s.CreatedAt.Format(time.RFC3339))
				}

				return nil
			},
		},
		{
			Name:        "decrypt",
			Usage:       "Decrypt an image with its token",
			Description: "Writes decoded_TIMESTAMP.txt unless --out names a file. Use --out - for standard output.",
			ArgsUsage:   "IMAGE TOKEN",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "out",
					Value: ".",
					Usage: "file or directory to write the text to",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				cfg, err := loadConfig(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				logger := newLogger(c, cfg)

				res, err := pixcrypt.DecryptFiles(c.Args().Get(0), c.Args().Get(1), alphabet.Reference)
				if err != nil {
					return cli.Exit(err, 1)
				}

				if !res.Token.Verified {
					logger.Warn("token has no key chunk, it cannot be checked against the alphabet")
				}
				if res.Stats.Dropped > 0 {
					logger.Warn("pixels not in token", "dropped", res.Stats.Dropped, "pixels", res.Stats.Pixels)
				}

				if c.String("out") == "-" {
					fmt.Fprint(c.App.Writer, res.Text)
					return nil
				}

				path, err := decodedPath(c.String("out"), time.Now())
				if err != nil {
					return cli.Exit(err, 1)
				}
				if err := os.WriteFile(path, []byte(res.Text), 0o644); err != nil {
					return cli.Exit(err, 1)
				}
				fmt.Fprintln(c.App.Writer, path)

				return nil
			},
		},
		{
			Name:        "preview",
			Usage:       "Make a shareable preview of an encrypted image",
			Description: "The preview cannot be decrypted.",
			ArgsUsage:   "IMAGE",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "out",
					Required: true,
					Usage:    "file to write the preview to",
				},
				&cli.BoolFlag{
					Name:  "scramble",
					Usage: "full size with random colors instead of a thumbnail",
				},
				&cli.IntFlag{
					Name:  "size",
					Value: preview.DefaultSize,
					Usage: "longest side of the thumbnail",
				},
				&cli.IntFlag{
					Name:  "colors",
					Value: preview.DefaultColors,
					Usage: "thumbnail palette size",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				in, err := os.Open(c.Args().First())
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer in.Close()

				g, err := image.Decode(in)
				if err != nil {
					return cli.Exit(err, 1)
				}

				out, err := os.Create(c.String("out"))
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer out.Close()

				if c.Bool("scramble") {
					err = image.Encode(out, preview.Scramble(g, nil), image.PNG)
				} else {
					err = preview.EncodeThumbnail(out, g.Image(), preview.Options{Size: c.Int("size"), Colors: c.Int("colors")})
				}
				if err != nil {
					return cli.Exit(err, 1)
				}

				return nil
			},
		},
		{
			Name:        "serve",
			Usage:       "Run a local encryption and payment service",
			Description: "Charges are settled from their hosted page or with --auto-confirm. No money changes hands.",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "listen",
					EnvVars: []string{"PIXCRYPT_LISTEN"},
					Usage:   "address to listen on",
				},
				&cli.IntFlag{
					Name:  "auto-confirm",
					Usage: "settle charges on this status check",
				},
			},
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				logger := newLogger(c, cfg)

				if c.IsSet("listen") {
					cfg.Server.Listen = c.String("listen")
				}
				if c.IsSet("auto-confirm") {
					cfg.Server.AutoConfirm = c.Int("auto-confirm")
				}

				db, err := server.OpenDB(cfg.Server.DB)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer db.Close()

				opts := []server.Option{
					server.WithLogger(logger.Named("server")),
					server.WithPrice(cfg.Server.Price),
					server.WithAutoConfirm(cfg.Server.AutoConfirm),
					server.WithPublicURL(cfg.Server.PublicURL),
				}
				if cfg.Server.Secret != "" {
					opts = append(opts, server.WithSecret([]byte(cfg.Server.Secret)))
				}

				s, err := server.New(db, opts...)
				if err != nil {
					return cli.Exit(err, 1)
				}

				ctx, cancel := signalContext(c)
				defer cancel()

				if err := s.ListenAndServe(ctx, cfg.Server.Listen); err != nil {
					return cli.Exit(err, 1)
				}

				return nil
			},
		},
	}

	return app
}

type encrypted struct {
	image   string
	session string
}

func writeEncrypted(ctx context.Context, a *env, text, name, dir string) (*encrypted, error) {
	f, err := os.CreateTemp(dir, ".pixcrypt-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	s, err := a.vault.Encrypt(ctx, text, name, f)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, pixcrypt.EncryptedName(s.FileName, a.vault.Format()))
	if err := os.Rename(f.Name(), path); err != nil {
		return nil, err
	}

	return &encrypted{image: path, session: s.ID}, nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
