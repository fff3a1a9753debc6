package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/terminguard/audit"
)

// Exit codes of `audit verify`.
const (
	exitInvalid    = 1
	exitReadFailed = 2
)

var (
	verifyJSONOutput bool
	verifyUnsigned   bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify the integrity of an exported audit trail",
	Long: `Reads an exported audit trail (from GET /admin/audit/export or
"terminguard audit export") and verifies the genesis anchor, hash chain
continuity, head, entry ordering and timestamp ordering.

When SESSION_SECRET is set the HMAC signature is verified as well;
pass --unsigned to skip it.

Exit status is 0 for a valid trail, 1 for an invalid one and 2 when the
file cannot be read or parsed.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	auditCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
	verifyCmd.Flags().BoolVar(&verifyUnsigned, "unsigned", false, "Skip signature verification")
}

func runVerify(cmd *cobra.Command, args []string) error {
	var key []byte
	if !verifyUnsigned {
		k, err := auditKeyFor(cfg)
		if err != nil {
			return &exitError{code: exitReadFailed, err: err}
		}
		key = k
	}
	return verifyFile(cmd.OutOrStdout(), args[0], key, verifyJSONOutput)
}

// verifyFile verifies the export at path and reports to w. The returned
// error is an *exitError unless the trail is valid.
func verifyFile(w io.Writer, path string, key []byte, asJSON bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &exitError{code: exitReadFailed, err: fmt.Errorf("cannot read file: %w", err)}
	}
	var exp audit.Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return &exitError{code: exitReadFailed, err: fmt.Errorf("invalid JSON: %w", err)}
	}

	result := audit.Verify(exp, key)
	result.File = path

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return &exitError{code: exitReadFailed, err: err}
		}
	} else {
		printHumanResult(w, result)
	}

	if !result.Valid {
		return &exitError{code: exitInvalid}
	}
	return nil
}

func printHumanResult(w io.Writer, result audit.Result) {
	fmt.Fprintf(w, "Audit chain verification: %s\n", result.File)
	fmt.Fprintf(w, "Entries:  %d\n\n", result.EntryCount)

	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case audit.StatusFail:
			tag = "[FAIL]"
		case audit.StatusWarn:
			tag = "[WARN]"
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	if result.SigNote != "" {
		fmt.Fprintf(w, "[INFO] %s\n", result.SigNote)
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
		return
	}
	failures, warnings := result.Counts()
	fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
}
