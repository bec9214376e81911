package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AnTengye/contractsign/geo"
	"github.com/AnTengye/contractsign/service"
	"github.com/AnTengye/contractsign/signing"
)

type signOpts struct {
	link            string
	signatureFile   string
	lat             float64
	lng             float64
	consent         bool
	witnessName     string
	witnessDocument string
}

func newSignCmd(root *rootOpts) *cobra.Command {
	var opts signOpts

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a document from an invitation link",
		Long: `Run the external signing flow from the command line: load the signing
package for --link, attach the signature image, record the given position
under geolocation consent and submit.

The same rules as the signing page apply: a signature, --consent and a
position (--lat with --lng) are required, and witnesses must also give
their name and document number. Nothing is submitted without them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signature, err := readSignature(opts.signatureFile)
			if err != nil {
				return err
			}

			// Without both coordinates there is no locator, so consent alone
			// can never produce a position.
			var locator geo.Locator
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
				locator = geo.Static{Lat: opts.lat, Lng: opts.lng}
			}
			if opts.consent && locator == nil {
				return &exitError{code: ExitError, msg: "--consent requires the signer's position: pass --lat and --lng"}
			}

			cfg := root.cfg
			client := service.NewAPIClient(&cfg.API, nil)
			flow := signing.NewFlow(client, opts.link, signing.Options{
				Locator:       locator,
				VerifyPageURL: cfg.Signing.VerifyPageURL,
			})
			defer flow.Close()

			return runSign(cmd.Context(), flow, signature, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.link, "link", "", "signing link token")
	cmd.Flags().StringVar(&opts.signatureFile, "signature-file", "", "PNG image or data URL file with the signature")
	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "latitude of the signer")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "longitude of the signer")
	cmd.Flags().BoolVar(&opts.consent, "consent", false, "grant geolocation consent for the given position")
	cmd.Flags().StringVar(&opts.witnessName, "witness-name", "", "witness full name")
	cmd.Flags().StringVar(&opts.witnessDocument, "witness-document", "", "witness document number")
	_ = cmd.MarkFlagRequired("link")
	_ = cmd.MarkFlagRequired("signature-file")
	cmd.MarkFlagsRequiredTogether("lat", "lng")
	return cmd
}

// readSignature returns the file as a data URL; PNG bytes are encoded.
func readSignature(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read signature: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "data:") {
		return text, nil
	}
	if ct := http.DetectContentType(data); ct != "image/png" {
		return "", fmt.Errorf("signature must be a PNG image or data URL, got %s", ct)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func runSign(ctx context.Context, flow *signing.Flow, signature string, opts signOpts, out io.Writer) error {
	if err := flow.Load(ctx); err != nil {
		return &exitError{code: ExitError, msg: flow.Snapshot().Error}
	}

	snap := flow.Snapshot()
	fmt.Fprintf(out, "Signing as %s (%s) for %s\n", snap.Package.SignerName, snap.Package.SignerType, snap.Package.ContractToken)

	if err := flow.SetSignature(signature); err != nil {
		return err
	}
	if snap.WitnessRequired {
		if err := flow.SetWitness(opts.witnessName, opts.witnessDocument); err != nil {
			return err
		}
	}
	if err := flow.SetConsent(ctx, opts.consent); err != nil {
		return err
	}
	geoState, err := flow.AwaitLocation(ctx)
	if err != nil {
		return err
	}
	if geoState.Status == signing.GeoFailed {
		fmt.Fprintf(out, "Location: %s\n", geoState.Message)
	}

	res, err := flow.Submit(ctx)
	if err != nil {
		var gateErr *signing.GateError
		if errors.As(err, &gateErr) {
			return &exitError{code: ExitError, msg: gateErr.Message()}
		}
		return &exitError{code: ExitError, msg: flow.Snapshot().SubmitError}
	}

	fmt.Fprintf(out, "Signed. Contract token: %s\n", res.ContractToken)
	fmt.Fprintf(out, "Verify at: %s\n", flow.Snapshot().VerifyURL)
	return nil
}
