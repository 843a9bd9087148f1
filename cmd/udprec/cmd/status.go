package cmd

import (
	"errors"
	"fmt"

	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rflandau/udprec/udprec/status"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running listener's status surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrideString(cmd, "addr", &a.cfg.StatusAddr)
			limit, _ := cmd.Flags().GetInt("limit")
			return a.status(cmd, limit)
		},
	}
	cmd.Flags().String("addr", "", "ip:port (or url) of the listener's status surface")
	cmd.Flags().Int("limit", 10, "number of recent records to show; 0 for all held")
	return cmd
}

func (a *app) status(cmd *cobra.Command, limit int) error {
	if a.cfg.StatusAddr == "" {
		return errors.New("no status address given (--addr)")
	}
	cli := status.NewClient(a.cfg.StatusAddr)
	defer cli.Close()

	out := cmd.OutOrStdout()
	sr, err := cli.Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "state: %s\nbind: %s\ndatagrams: %d (records: %d, corrupted: %d)\n",
		sr.Body.State, sr.Body.Bind,
		sr.Body.Counters.Datagrams, sr.Body.Counters.Records, sr.Body.Counters.DecodeErrors)
	for _, p := range sr.Body.ActivePeers {
		fmt.Fprintf(out, "peer %s: %d datagrams\n", p.Addr, p.Datagrams)
	}

	entries, err := cli.Records(cmd.Context(), limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Error != "" {
			fmt.Fprintf(out, "#%d %s corrupted packet: %s\n", e.Seq, e.From, e.Error)
			continue
		}
		fmt.Fprintf(out, "#%d %s %s\n", e.Seq, e.From, protocol.Record{ID: e.ID, Text: e.Text})
	}
	return nil
}
