package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/terminguard/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail tools",
	Long:  `Commands for exporting and verifying the security audit trail.`,
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit trail as signed JSON",
	Long: `Writes the complete audit trail of the configured storage backend as JSON.
The export is signed with a key derived from SESSION_SECRET when one is set.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write the export to this file instead of stdout")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	key, err := auditKeyFor(cfg)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	exp, err := audit.NewTrail(b.repo).Export(ctx, key)
	if err != nil {
		return fmt.Errorf("exporting audit trail: %w", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.OpenFile(exportOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := writeExport(w, exp); err != nil {
		return err
	}
	if exportOut != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d entries to %s\n", len(exp.Entries), exportOut)
	}
	return nil
}

func writeExport(w io.Writer, exp *audit.Export) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exp)
}
