package cmd

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgelesssys/go-sgx-evidence/verification"
	"github.com/edgelesssys/go-sgx-evidence/verification/types"
	"github.com/spf13/cobra"
)

func (c *cli) newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <evidence-file>",
		Short: "Print the content of evidence as JSON",
		Long: `Print the content of evidence as JSON.

The evidence is parsed, but not verified.`,
		Args: cobra.ExactArgs(1),
		RunE: c.runInspect,
	}
}

func (c *cli) runInspect(cmd *cobra.Command, args []string) error {
	evidence, err := c.fs.ReadFile(args[0])
	if err != nil {
		return err
	}
	rawQuote, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(evidence)))
	if err != nil {
		return fmt.Errorf("decoding evidence: %w", err)
	}
	view, err := inspectQuote(rawQuote)
	if err != nil {
		return err
	}

	prettyPrint, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(prettyPrint))
	return nil
}

type quoteView struct {
	Version         uint16            `json:"version"`
	TEE             string            `json:"tee"`
	QESVN           uint16            `json:"qeSvn"`
	PCESVN          uint16            `json:"pceSvn"`
	QEVendorID      string            `json:"qeVendorId"`
	CodeIdentity    string            `json:"codeIdentity"`
	MRSIGNER        string            `json:"mrsigner,omitempty"`
	ProductID       uint16            `json:"productId,omitempty"`
	SecurityVersion uint16            `json:"securityVersion,omitempty"`
	Debug           bool              `json:"debug"`
	ReportData      string            `json:"reportData"`
	AttestationKey  string            `json:"attestationKey"`
	QEReport        enclaveView       `json:"qeReport"`
	PCKCertChain    []certificateView `json:"pckCertChain,omitempty"`
}

type enclaveView struct {
	MRENCLAVE       string `json:"mrenclave"`
	MRSIGNER        string `json:"mrsigner"`
	ProductID       uint16 `json:"productId"`
	SecurityVersion uint16 `json:"securityVersion"`
}

type certificateView struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	Serial    string    `json:"serial"`
	NotBefore time.Time `json:"notBefore"`
	NotAfter  time.Time `json:"notAfter"`
}

// inspectQuote returns a printable view of a quote.
func inspectQuote(rawQuote []byte) (quoteView, error) {
	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return quoteView{}, fmt.Errorf("parsing quote: %w", err)
	}
	qeReport, err := quote.Signature.QEReport()
	if err != nil {
		return quoteView{}, err
	}
	reportData := quote.ReportData()

	view := quoteView{
		Version:        quote.Header.Version,
		TEE:            "SGX",
		QESVN:          quote.Header.QESVN,
		PCESVN:         quote.Header.PCESVN,
		QEVendorID:     hex.EncodeToString(quote.Header.QEVendorID[:]),
		CodeIdentity:   hex.EncodeToString(quote.CodeIdentity()),
		Debug:          quote.Debug(),
		ReportData:     hex.EncodeToString(reportData[:]),
		AttestationKey: hex.EncodeToString(quote.Signature.PublicKey[:]),
		QEReport: enclaveView{
			MRENCLAVE:       hex.EncodeToString(qeReport.EnclaveReport.MRENCLAVE[:]),
			MRSIGNER:        hex.EncodeToString(qeReport.EnclaveReport.MRSIGNER[:]),
			ProductID:       qeReport.EnclaveReport.ISVProdID,
			SecurityVersion: qeReport.EnclaveReport.ISVSVN,
		},
	}
	if quote.TDBody != nil {
		view.TEE = "TDX"
	} else {
		view.MRSIGNER = hex.EncodeToString(quote.EnclaveBody.MRSIGNER[:])
		view.ProductID = quote.EnclaveBody.ISVProdID
		view.SecurityVersion = quote.EnclaveBody.ISVSVN
	}

	if pck, intermediate, root, err := verification.PCKCertChain(quote); err == nil {
		for _, cert := range []*x509.Certificate{pck, intermediate, root} {
			view.PCKCertChain = append(view.PCKCertChain, certificateView{
				Subject:   cert.Subject.String(),
				Issuer:    cert.Issuer.String(),
				Serial:    cert.SerialNumber.String(),
				NotBefore: cert.NotBefore,
				NotAfter:  cert.NotAfter,
			})
		}
	}
	return view, nil
}
