package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

// Exit codes of the verify command.
const (
	exitValid      = 0
	exitIntegrity  = 1
	exitStructural = 2
	exitSignature  = 3
)

// keyFromEnv decodes the HMAC key held in the named environment variable.
// An unset variable yields a nil key.
func keyFromEnv(name string) ([]byte, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, nil
	}
	key, err := hashops.DecodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return key, nil
}

// ── seal ─────────────────────────────────────────────────────────────────────

var (
	sealManifest string
	sealOut      string
	sealKeyEnv   string
	sealKeyID    string
	sealCommit   string
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Build and seal an evidence pack from a manifest",
	Long: `Seal hashes every artifact listed in the manifest, builds the evidence
pack and writes <packId>.pack.json and <packId>.seal.json to the output
directory. Relative artifact paths resolve against the manifest's directory.

  NZILA_SEAL_KEY=hex:... nzila seal --manifest evidence.json --out dist/`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keyFromEnv(sealKeyEnv)
		if err != nil {
			return err
		}
		res, packPath, sealPath, err := sealManifestFile(cmd.Context(), sealManifest, sealOut, sealCommit, evidence.SealOptions{Key: key, KeyID: sealKeyID})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Pack:      %s\n", packPath)
		fmt.Fprintf(out, "Seal:      %s\n", sealPath)
		fmt.Fprintf(out, "Artifacts: %d\n", len(res.Pack.Artifacts))
		for _, s := range res.Skipped {
			fmt.Fprintf(out, "Skipped:   %s (%s)\n", s.Name, s.Reason)
		}
		if len(key) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s is not set; the seal is unsigned\n", sealKeyEnv)
		}
		return nil
	},
}

func init() {
	sealCmd.Flags().StringVar(&sealManifest, "manifest", "", "path to the evidence manifest (JSON)")
	sealCmd.Flags().StringVar(&sealOut, "out", ".", "output directory for the pack and seal")
	sealCmd.Flags().StringVar(&sealKeyEnv, "key-env", "NZILA_SEAL_KEY", "environment variable holding the HMAC key")
	sealCmd.Flags().StringVar(&sealKeyID, "key-id", "", "key id recorded in the seal (default: key fingerprint)")
	sealCmd.Flags().StringVar(&sealCommit, "commit", "", "commit SHA recorded in the pack (overrides the manifest)")
	_ = sealCmd.MarkFlagRequired("manifest")
}

func sealManifestFile(ctx context.Context, manifestPath, outDir, commit string, opts evidence.SealOptions) (*evidence.BuildResult, string, string, error) {
	m, err := evidence.LoadManifest(manifestPath)
	if err != nil {
		return nil, "", "", err
	}
	in := m.BuildInput()
	if commit != "" {
		in.CommitSHA = commit
	}

	b := evidence.NewBuilder(zap.NewNop(), evidence.WithBaseDir(filepath.Dir(manifestPath)))
	res, seal, err := b.BuildAndSeal(ctx, in, opts)
	if err != nil {
		return nil, "", "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, "", "", fmt.Errorf("create output dir: %w", err)
	}
	packPath, sealPath, err := evidence.WritePair(outDir, res.Pack, seal)
	if err != nil {
		return nil, "", "", err
	}
	return res, packPath, sealPath, nil
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyPack       string
	verifySealPath   string
	verifyKeyEnv     string
	verifyRequireSig bool
	verifyFormat     string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an evidence pack against its seal",
	Long: `Verify recomputes the Merkle root and pack digest from the pack and
compares them, and the HMAC when a key is available, against the seal.

Exit codes:
  0  valid, unsigned, or signed but unauthenticated (no key supplied)
  1  integrity failure
  2  missing or malformed pack or seal
  3  signature required but not confirmed`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keyFromEnv(verifyKeyEnv)
		if err != nil {
			return &exitError{code: exitStructural, err: err}
		}
		res, code, err := verifyFiles(verifyPack, verifySealPath, evidence.VerifyOptions{Key: key, RequireSignature: verifyRequireSig})
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return &exitError{code: code, err: err}
		}
		if err := printVerify(cmd.OutOrStdout(), verifyFormat, res); err != nil {
			return err
		}
		if code != exitValid {
			return &exitError{code: code, err: errors.New(res.Reason)}
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyPack, "pack", "", "path to the pack JSON")
	verifyCmd.Flags().StringVar(&verifySealPath, "seal", "", "path to the seal JSON")
	verifyCmd.Flags().StringVar(&verifyKeyEnv, "key-env", "NZILA_SEAL_KEY", "environment variable holding the HMAC key")
	verifyCmd.Flags().BoolVar(&verifyRequireSig, "require-signature", false, "fail unless the seal's HMAC is present and confirmed")
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
	_ = verifyCmd.MarkFlagRequired("pack")
	_ = verifyCmd.MarkFlagRequired("seal")
}

// verifyFiles loads and verifies a pack/seal pair and maps the outcome to an
// exit code. A non-nil error means the files could not be read or decoded.
func verifyFiles(packPath, sealPath string, opts evidence.VerifyOptions) (evidence.VerifyResult, int, error) {
	p, err := evidence.ReadPack(packPath)
	if err != nil {
		return evidence.VerifyResult{}, exitStructural, err
	}
	seal, err := evidence.ReadSeal(sealPath)
	if err != nil {
		return evidence.VerifyResult{}, exitStructural, err
	}
	res := evidence.VerifySeal(p, seal, opts)
	return res, verdictExitCode(res, opts.RequireSignature), nil
}

func verdictExitCode(res evidence.VerifyResult, requireSig bool) int {
	if res.Valid {
		return exitValid
	}
	// A mismatching HMAC is tampering; only an absent signature or key is
	// "required but unconfirmed".
	if requireSig && res.SignatureUnconfirmed && len(res.Mismatches) == 1 {
		return exitSignature
	}
	return exitIntegrity
}

func printVerify(w io.Writer, format string, res evidence.VerifyResult) error {
	if format == "json" {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "Pack:     %s\n", res.PackID)
	fmt.Fprintf(w, "Verdict:  %s\n", res.Verdict)
	if res.KeyID != "" {
		fmt.Fprintf(w, "Key ID:   %s\n", res.KeyID)
	}
	fmt.Fprintf(w, "Reason:   %s\n", res.Reason)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tRESULT\tDETAIL")
	for _, c := range res.Checks {
		mark := "ok"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, mark, c.Detail)
	}
	return tw.Flush()
}

// ── schema ───────────────────────────────────────────────────────────────────

var schemaCmd = &cobra.Command{
	Use:       "schema <pack|seal|manifest>",
	Short:     "Print the JSON Schema of an evidence document",
	Args:      cobra.ExactArgs(1),
	ValidArgs: evidence.SchemaKinds(),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := evidence.Schema(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return err
	},
}
