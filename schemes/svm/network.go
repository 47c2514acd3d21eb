// Package svm implements the C1 Solana (SVM) scheme backend for the exact
// scheme: a client side that builds a partially-signed SPL token transfer
// (the payer signs, the facilitator fee-pays and submits) and a facilitator
// side that validates, simulates, signs, and submits that transaction.
// Grounded on the teacher's signers/svm/signer.go client-signing shape and,
// for the facilitator half the teacher itself never implements (it only
// ever calls a remote facilitator over HTTP), on
// other_examples/5a6aa2ff_regent-ai-monorepo__facilitator-vendor-x402-go-mechanisms-svm-exact-facilitator-scheme.go.go's
// ExactSvmScheme.
package svm

import x402 "github.com/x402-core/x402-go"

// SchemeExact is the scheme name this package's backends serve.
const SchemeExact = "exact"

// MaxComputeUnitPrice caps the microLamports-per-compute-unit a payload may
// request, mirroring the facilitator reference's MaxComputeUnitPrice guard
// against a client driving up the facilitator's priority fee spend.
const MaxComputeUnitPrice = 5_000_000

// ComputeUnitLimit and ComputeUnitPrice are the fixed compute-budget values
// this package's client scheme sets on every transfer it builds, matching
// the values the teacher's BuildPartiallySignedTransfer used before the
// richer exact_svm wire format added per-call fee-payer instructions.
const (
	ComputeUnitLimit = uint32(200_000)
	ComputeUnitPrice = uint64(10_000)
)

// feePayerFromRequirements extracts requirements.Extra["feePayer"], the
// facilitator's fee-payer address advertised via EnhanceRequirements.
func feePayerFromRequirements(requirements x402.PaymentRequirements) (string, bool) {
	if requirements.Extra == nil {
		return "", false
	}
	feePayer, ok := requirements.Extra["feePayer"].(string)
	return feePayer, ok && feePayer != ""
}
