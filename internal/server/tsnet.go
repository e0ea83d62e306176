package server

import (
	"context"
	"fmt"
	"log/slog"

	"tailscale.com/tsnet"

	"github.com/sbaerlocher/tuyametrics/internal/config"
)

// RunWithTsnet joins the tailnet as cfg.TsnetHostname and serves the route
// tree there and on the local bind address, which stays up for probes.
func (s *Server) RunWithTsnet(ctx context.Context) error {
	node := &tsnet.Server{
		Hostname: s.cfg.TsnetHostname,
		Dir:      config.SetupTsnetStateDir(s.cfg.TsnetStateDir),
		AuthKey:  s.cfg.TsnetAuthKey,
	}
	defer node.Close()

	authMode := "interactive"
	if node.AuthKey != "" {
		authMode = "auth_key"
	}
	slog.Info("Joining tailnet", "hostname", node.Hostname, "auth", authMode, "state_dir", node.Dir)

	bind := ":" + s.cfg.Port
	ln, err := node.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("tsnet listen on %s: %w", bind, err)
	}

	tailnetSrv := createHTTPServer("", s.handler)
	localAddr := s.localBindAddr()
	localSrv := createHTTPServer(localAddr, s.handler)

	return s.serve(ctx,
		listener{name: "tailnet", addr: node.Hostname + bind, srv: tailnetSrv, run: func() error { return tailnetSrv.Serve(ln) }},
		listener{name: "local", addr: localAddr, srv: localSrv, run: localSrv.ListenAndServe},
	)
}
