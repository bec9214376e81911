package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AnTengye/contractsign/model"
	"github.com/AnTengye/contractsign/service"
	"github.com/AnTengye/contractsign/verification"
)

type verifyOpts struct {
	docType string
	hash    string
	pdfPath string
	asJSON  bool
}

func newVerifyCmd(root *rootOpts) *cobra.Command {
	var opts verifyOpts

	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Check that a document is authentic",
		Long: `Look up a document token and optionally compare a SHA-256 hash or a PDF
against the stored document.

Exit codes:
  0    document found and every requested check passed
  1    the check could not be performed
  2    document not found, invalid, or a hash/PDF mismatch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docType, err := model.ParseDocumentType(opts.docType)
			if err != nil {
				_ = cmd.Help()
				return err
			}

			cfg := root.cfg
			client := service.NewAPIClient(&cfg.API, nil)
			session := verification.NewSession(client, verification.Options{MaxPDFBytes: cfg.Verify.MaxPDFBytes})
			defer session.Close()

			return runVerify(cmd.Context(), session, args[0], docType, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.docType, "type", "AUTO", "document type: AUTO, CONTRACT, AGREEMENT, INSPECTION, EXTRAJUDICIAL_NOTIFICATION")
	cmd.Flags().StringVar(&opts.hash, "hash", "", "SHA-256 hash to compare with the stored document")
	cmd.Flags().StringVar(&opts.pdfPath, "pdf", "", "PDF file to compare with the stored document")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func runVerify(ctx context.Context, session *verification.Session, token string, docType model.DocumentType, opts verifyOpts, out io.Writer) error {
	res, lookupErr := session.Lookup(ctx, token, docType)

	// The hash and PDF checks are independent and run side by side
	var hashErr, pdfErr error
	if lookupErr == nil {
		var g errgroup.Group
		if opts.hash != "" {
			g.Go(func() error {
				_, hashErr = session.VerifyHash(ctx, opts.hash)
				return nil
			})
		}
		if opts.pdfPath != "" {
			g.Go(func() error {
				pdfErr = verifyFile(ctx, session, opts.pdfPath)
				return nil
			})
		}
		_ = g.Wait()
	}
	checkErr := errors.Join(hashErr, pdfErr)

	snap := session.Snapshot()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		printVerification(out, snap, res)
	}

	return verifyOutcome(snap, lookupErr, checkErr)
}

func verifyFile(ctx context.Context, session *verification.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	_, err = session.VerifyPDF(ctx, filepath.Base(path), f)
	return err
}

// verifyOutcome turns the final state into the command's exit status
func verifyOutcome(snap verification.Snapshot, lookupErr, checkErr error) error {
	switch snap.Lookup.Phase {
	case verification.PhaseNotFound:
		return &exitError{code: ExitMismatch, msg: snap.Lookup.Error}
	case verification.PhaseFound:
	default:
		return &exitError{code: ExitError, msg: snap.Lookup.Error + ": " + errString(lookupErr)}
	}

	for _, st := range []verification.CheckState{snap.Hash, snap.PDF} {
		if st.Phase == verification.PhaseFailed {
			return &exitError{code: ExitError, msg: st.Error + ": " + errString(checkErr)}
		}
	}
	if !snap.Lookup.Result.Valid {
		return &exitError{code: ExitMismatch, msg: "document is not valid"}
	}
	for _, st := range []verification.CheckState{snap.Hash, snap.PDF} {
		if st.Phase == verification.PhaseInvalid {
			return &exitError{code: ExitMismatch, msg: "hash mismatch"}
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func printVerification(out io.Writer, snap verification.Snapshot, res *model.VerificationResult) {
	if res == nil {
		fmt.Fprintf(out, "Lookup:   %s\n", snap.Lookup.Error)
		return
	}

	fmt.Fprintf(out, "Token:    %s\n", snap.ActiveToken)
	if res.DocumentType != "" {
		fmt.Fprintf(out, "Type:     %s\n", res.DocumentType)
	}
	if res.Status != "" {
		fmt.Fprintf(out, "Status:   %s\n", res.Status)
	}
	fmt.Fprintf(out, "Valid:    %s\n", yesNo(res.Valid))
	if res.Message != "" {
		fmt.Fprintf(out, "Message:  %s\n", res.Message)
	}
	printTimestamp(out, "Created:  ", res.CreatedAt)
	printTimestamp(out, "Signed:   ", res.SignedAt)
	if res.Hash != "" {
		fmt.Fprintf(out, "Hash:     %s\n", res.Hash)
	}
	for _, name := range sortedKeys(res.Details) {
		fmt.Fprintf(out, "  %-20s %s\n", name, yesNo(res.Details[name]))
	}

	printCheck(out, "Hash check", snap.Hash)
	printCheck(out, "PDF check", snap.PDF)
}

func printTimestamp(out io.Writer, label, raw string) {
	if raw == "" {
		return
	}
	ts, err := model.ParseTimestamp(raw)
	if err != nil {
		fmt.Fprintf(out, "%s%s\n", label, raw)
		return
	}
	fmt.Fprintf(out, "%s%s\n", label, ts.Format(time.RFC1123))
}

func printCheck(out io.Writer, label string, st verification.CheckState) {
	switch st.Phase {
	case verification.PhaseValid:
		fmt.Fprintf(out, "%s: match\n", label)
	case verification.PhaseInvalid:
		fmt.Fprintf(out, "%s: MISMATCH\n", label)
		if st.Mismatch {
			fmt.Fprintf(out, "  stored:   %s\n  computed: %s\n", st.Result.StoredHash, st.Result.ComputedHash)
		}
	case verification.PhaseFailed:
		fmt.Fprintf(out, "%s: failed: %s\n", label, st.Error)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
