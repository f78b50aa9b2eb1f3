/*
# SGX/TDX Attestation Data Types

This package contains minimal typed views over the binary structures used for SGX and TDX attestation,
together with parsers that validate lengths before every fixed-offset access.

## Quote Formats

	                 SGX v3                 SGX v4                 TDX v4
	       ┌──────────────────────┬──────────────────────┬──────────────────────┐
	0..48  │ QuoteHeader          │ QuoteHeader          │ QuoteHeader          │
	       │ (TEEType reserved)   │ (TEEType 0x00)       │ (TEEType 0x81)       │
	       ├──────────────────────┼──────────────────────┼──────────────────────┤
	48..   │ EnclaveReport        │ EnclaveReport        │ SGXReport2           │
	       │ (384 bytes)          │ (384 bytes)          │ (584 bytes)          │
	       ├──────────────────────┼──────────────────────┼──────────────────────┤
	       │ SignatureLength (4)  │ SignatureLength (4)  │ SignatureLength (4)  │
	       ├──────────────────────┼──────────────────────┴──────────────────────┤
	       │ Signature (64)       │ Signature (64)                              │
	       │ PublicKey (64)       │ PublicKey (64)                              │
	       │                      │ CertificationData type 6 (2) + size (4)     │
	       │ QEReportCertification│ QEReportCertificationData                   │
	       │ Data                 │                                             │
	       └──────────────────────┴─────────────────────────────────────────────┘

QEReportCertificationData holds the EnclaveReport of the Quoting Enclave (384 bytes), its signature (64 bytes),
the QE authentication data (2 bytes size + data), and CertificationData of type 5 holding the PEM encoded PCK certificate chain.

Fields read by verifiers:

	SGX: attributes 96..112 (DEBUG = 0x02 in byte 96), MRENCLAVE 112..144, MRSIGNER 176..208, report data 368..432
	TDX: TD attributes 168..176 (DEBUG = bit 0), MRTD 184..232, report data 568..632

Quotes produced through Open Enclave (and EGo) are prefixed with a 16 byte report header, which [ParseQuote] removes.
*/
package types
