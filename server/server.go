// Package server runs a game session together with its SSH developer console.
package server

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/gliderlabs/ssh"
	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/game"
	"github.com/zond/juicerpg/pemfile"
	"github.com/zond/juicerpg/storage"

	gossh "golang.org/x/crypto/ssh"
)

func DefaultConfig() game.Config {
	return game.DefaultConfig()
}

func ConfigFromEnv() (game.Config, error) {
	return game.ConfigFromEnv()
}

type Server struct {
	config game.Config
	logger *log.Logger
}

func New(config game.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		config: config,
		logger: logger,
	}
}

// Start loads the project and runs the session until ctx is done or the
// console stops.
func (s *Server) Start(ctx context.Context) error {
	store, err := storage.New(ctx, s.config.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	session, err := game.New(s.config, store, s.logger)
	if err != nil {
		return err
	}
	if err := session.LoadProject(ctx, s.config.ProjectDir); err != nil {
		return err
	}
	s.logger.Printf("Loaded %q from %q", session.Project().Title, s.config.ProjectDir)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	go func() {
		errs <- session.Run(ctx)
	}()

	if s.config.ConsoleAddr != "" {
		srv, err := s.console(session)
		if err != nil {
			return err
		}
		go func() {
			errs <- srv.ListenAndServe()
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	err = <-errs
	if errors.Is(err, context.Canceled) || errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return juicerpg.WithStack(err)
}

func (s *Server) console(session *game.Session) (*ssh.Server, error) {
	if err := os.MkdirAll(filepath.Dir(s.config.HostKeyPath), 0700); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	_, signer, err := pemfile.KeyParams{KeyPath: s.config.HostKeyPath}.Load()
	if err != nil {
		return nil, err
	}
	srv := &ssh.Server{
		Addr:    s.config.ConsoleAddr,
		Handler: session.HandleSession,
	}
	srv.AddHostKey(signer)
	s.logger.Printf("Console listening on %q with public key %q", s.config.ConsoleAddr, gossh.FingerprintSHA256(signer.PublicKey()))
	return srv, nil
}
