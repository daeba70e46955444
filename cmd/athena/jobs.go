package main

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBackfillCmd(e *env) *cobra.Command {
	var (
		pageSize int
		resume   bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Assign canonical owners to legacy ledger messages",
		Long: `Pages through the ledger and sets the canonical owner of every message
written before identities were centralized. Rows that already have an owner
are never rewritten, so the command can be repeated or interrupted safely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(e.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if pageSize <= 0 {
				pageSize = e.cfg.Backfill.PageSize
			}
			run := a.backfill.Migrate
			if resume {
				run = a.backfill.Resume
			}
			rep, err := run(cmd.Context(), pageSize)
			if err != nil {
				log.Error().Err(err).Str("cursor", rep.Cursor).Msg("backfill stopped")
			}
			if werr := writeJSON(cmd, rep); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "messages per page (default BACKFILL_PAGE_SIZE)")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the last checkpoint")
	return cmd
}

func newCentralizeCmd(e *env) *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "centralize",
		Short: "Create canonical users for identities seen only on legacy messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(e.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if pageSize <= 0 {
				pageSize = e.cfg.Backfill.PageSize
			}
			rep, err := a.centralizer.PromoteLegacy(cmd.Context(), pageSize)
			if werr := writeJSON(cmd, rep); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "identities per page (default BACKFILL_PAGE_SIZE)")
	return cmd
}

func newResolveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <platform> <platform-user-id> [display-name]",
		Short: "Resolve a platform identity to its canonical user",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(e.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var hint string
			if len(args) == 3 {
				hint = args[2]
			}
			res, err := a.resolver.ResolveDetailed(cmd.Context(), args[0], args[1], hint)
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]string{
				"canonical_user_id": res.CanonicalUserID,
				"path":              res.Path,
			})
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
