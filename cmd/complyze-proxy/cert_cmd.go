package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/certs"
)

var (
	certCmd = &cobra.Command{
		Use:   "cert",
		Short: "Inspect or export the interception CA certificate",
		Long: `Inspect or export the CA certificate the proxy uses to mint per-host
leaf certificates. Clients must trust this certificate before intercepted
HTTPS connections will verify.

To trust it system-wide:

  macOS:   sudo security add-trusted-cert -d -r trustRoot \
             -k /Library/Keychains/System.keychain "$(complyze-proxy cert path)"
  Linux:   sudo cp "$(complyze-proxy cert path)" /usr/local/share/ca-certificates/complyze.crt \
             && sudo update-ca-certificates
  Node.js: export NODE_EXTRA_CA_CERTS="$(complyze-proxy cert path)"
  Python:  export REQUESTS_CA_BUNDLE="$(complyze-proxy cert path)"

Examples:
  complyze-proxy cert path               # Print the PEM file location
  complyze-proxy cert export -o ca.pem   # Write the PEM somewhere else
  complyze-proxy cert fingerprint        # Print the SHA-256 fingerprint`,
	}

	certPathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the CA certificate file path",
		RunE:  runCertPath,
	}

	certExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write the CA certificate PEM to stdout or a file",
		RunE:  runCertExport,
	}

	certFingerprintCmd = &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the CA certificate SHA-256 fingerprint",
		RunE:  runCertFingerprint,
	}

	certExportOut string
)

func init() {
	certExportCmd.Flags().StringVarP(&certExportOut, "out", "o", "", "Output file (default: stdout)")
	certCmd.AddCommand(certPathCmd)
	certCmd.AddCommand(certExportCmd)
	certCmd.AddCommand(certFingerprintCmd)
}

// loadCA opens the CA from the configured data directory, generating it on
// first use so every cert subcommand works before the proxy has ever run.
func loadCA() (*certs.CA, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ca, err := certs.LoadOrCreate(cfg.CertsDir(), zap.NewNop().Sugar())
	if err != nil {
		return nil, fmt.Errorf("failed to load CA: %w", err)
	}
	return ca, nil
}

func runCertPath(_ *cobra.Command, _ []string) error {
	ca, err := loadCA()
	if err != nil {
		return err
	}
	fmt.Println(ca.CertPath())
	return nil
}

func runCertExport(_ *cobra.Command, _ []string) error {
	ca, err := loadCA()
	if err != nil {
		return err
	}
	if certExportOut == "" {
		_, err := os.Stdout.Write(ca.CertPEM())
		return err
	}
	if err := os.WriteFile(certExportOut, ca.CertPEM(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", certExportOut, err)
	}
	fmt.Printf("CA certificate written to %s\n", certExportOut)
	return nil
}

func runCertFingerprint(_ *cobra.Command, _ []string) error {
	ca, err := loadCA()
	if err != nil {
		return err
	}
	fmt.Println(ca.Fingerprint())
	return nil
}
