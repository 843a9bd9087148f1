package cmd

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rflandau/udprec/udprec/sender"
	"github.com/rflandau/udprec/udprec/store"
	"github.com/spf13/cobra"
)

func newSendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send records to a listener",
		Long: `Send every record of the database's records table to the destination, one datagram per record.
If --id or --text is given, only that single record is sent and the database is not opened.

Records whose text does not fit in a datagram are reported and skipped unless --fit is given, in which case the
text is cut at the last whole character that fits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrideString(cmd, "dest", &a.cfg.Destination)
			overrideString(cmd, "bind", &a.cfg.SourceBind)
			return a.send(cmd)
		},
	}
	cmd.Flags().String("dest", "", "ip:port to send to")
	cmd.Flags().String("bind", "", "local ip:port to send from (default: any, ephemeral port)")
	cmd.Flags().Uint32("id", 0, "id of a single record to send")
	cmd.Flags().String("text", "", "text of a single record to send")
	cmd.Flags().Bool("fit", false, "shorten oversized text instead of skipping the record")
	return cmd
}

func (a *app) send(cmd *cobra.Command) error {
	dest, err := a.cfg.DestinationAddr()
	if err != nil {
		return fmt.Errorf("bad destination: %w", err)
	}

	var recs []protocol.Record
	if cmd.Flags().Changed("id") || cmd.Flags().Changed("text") {
		id, _ := cmd.Flags().GetUint32("id")
		text, _ := cmd.Flags().GetString("text")
		recs = []protocol.Record{{ID: id, Text: text}}
	} else {
		s, err := store.Open(a.cfg.Database, a.log)
		if err != nil {
			return err
		}
		defer s.Close()
		if recs, err = s.Load(cmd.Context()); err != nil {
			return err
		}
	}

	opts := []sender.Option{sender.WithLogger(&a.log)}
	if a.cfg.SourceBind != "" {
		local, err := netip.ParseAddrPort(a.cfg.SourceBind)
		if err != nil {
			return fmt.Errorf("bad source address: %w", err)
		}
		opts = append(opts, sender.WithLocalAddr(local))
	}
	snd, err := sender.New(opts...)
	if err != nil {
		return err
	}
	defer snd.Close()

	fit, _ := cmd.Flags().GetBool("fit")
	var failed int
	for _, r := range recs {
		if fit {
			r = protocol.Fit(r)
		}
		if err := snd.Send(cmd.Context(), dest, r); err != nil {
			failed++
			var tooLarge *protocol.PayloadTooLargeError
			if errors.As(err, &tooLarge) {
				a.log.Error().Uint32("id", r.ID).Int("excess", tooLarge.Excess).Msg("record text too long to send")
			} else {
				a.log.Error().Err(err).Uint32("id", r.ID).Msg("failed to send record")
			}
			continue
		}
		a.log.Info().Func(r.Zerolog).Str("destination", dest.String()).Msg("sent record")
	}

	a.log.Info().Int("sent", len(recs)-failed).Int("failed", failed).Msg("done")
	if failed > 0 {
		return fmt.Errorf("%d of %d records failed to send", failed, len(recs))
	}
	return nil
}
