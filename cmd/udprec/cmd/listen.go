package cmd

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rflandau/udprec/udprec/config"
	"github.com/rflandau/udprec/udprec/receiver"
	"github.com/rflandau/udprec/udprec/status"
	"github.com/rflandau/udprec/udprec/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 3 * time.Second

func newListenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive records until interrupted",
		Long: `Bind a UDP socket and log every record that arrives. Malformed datagrams are logged as warnings.

With --status, a read-only HTTP surface reports the receiver's state, recent records, and prometheus metrics.
With --journal, every record is also appended to the database's received table.
SIGINT or SIGTERM stops the listener gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrideString(cmd, "bind", &a.cfg.Bind)
			overrideString(cmd, "status", &a.cfg.StatusAddr)
			if f := cmd.Flags().Lookup("journal"); f.Changed {
				a.cfg.Journal, _ = cmd.Flags().GetBool("journal")
			}
			return a.listen(cmd)
		},
	}
	cmd.Flags().String("bind", "", "ip:port to listen on (default "+config.DefaultBind+")")
	cmd.Flags().String("status", "", "ip:port to serve the HTTP status surface on (default: disabled)")
	cmd.Flags().Bool("journal", false, "persist received records to the database")
	return cmd
}

func (a *app) listen(cmd *cobra.Command) error {
	bind, err := netip.ParseAddrPort(a.cfg.Bind)
	if err != nil {
		return fmt.Errorf("bad bind address: %w", err)
	}
	var saddr netip.AddrPort
	if a.cfg.StatusAddr != "" {
		if saddr, err = netip.ParseAddrPort(a.cfg.StatusAddr); err != nil {
			return fmt.Errorf("bad status address: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	consumers := []receiver.Consumer{receiver.LogConsumer(&a.log)}

	if a.cfg.Journal {
		s, err := store.Open(a.cfg.Database, a.log)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(); err != nil {
			return err
		}
		consumers = append(consumers, s.Journal())
	}

	var rl *status.Log
	if saddr.IsValid() {
		rl = status.NewLog(status.DefaultCapacity, status.DefaultPeerTTL)
		consumers = append(consumers, rl.Consumer())
	}

	rcvr, err := receiver.Listen(bind, receiver.Tee(consumers...),
		receiver.WithLogger(&a.log),
		receiver.WithPollInterval(a.cfg.PollInterval),
		receiver.WithMetrics(receiver.NewMetrics(reg)))
	if err != nil {
		return err
	}
	a.log.Info().Str("bind", rcvr.Addr().String()).Msg("listening for records")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			rcvr.Stop()
			return nil
		case <-rcvr.Done():
			return rcvr.Err()
		}
	})

	if rl != nil {
		srv, err := status.NewServer(saddr, rcvr, rl, status.WithLogger(&a.log), status.WithGatherer(reg))
		if err == nil {
			err = srv.Start()
		}
		if err != nil {
			rcvr.Stop()
			return err
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			case <-srv.Done():
				return fmt.Errorf("status server stopped: %w", srv.Err())
			}
		})
	}

	err = g.Wait()
	a.log.Info().Msg("listener stopped")
	return err
}
