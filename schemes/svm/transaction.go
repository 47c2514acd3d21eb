package svm

import (
	"encoding/base64"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
)

// decodeTransaction parses a base64-encoded serialized Solana transaction.
func decodeTransaction(b64 string) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromBase64(b64)
	if err != nil {
		return nil, fmt.Errorf("svm: decode transaction: %w", err)
	}
	return tx, nil
}

// encodeTransaction serializes tx to the base64 wire form Payload carries.
func encodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("svm: marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// buildTransfer assembles the three-instruction transaction this package's
// exact scheme always produces: SetComputeUnitLimit, SetComputeUnitPrice,
// then TransferChecked from the payer's ATA to payTo's ATA, fee-paid by
// feePayer. Grounded on the CedrosPay-server builder.go's
// BuildGaslessTransaction instruction ordering, minus its memo instruction
// (no SPEC_FULL.md component calls for an on-chain memo).
func buildTransfer(payer, recipient, mint, feePayer solana.PublicKey, amount uint64, decimals uint8, blockhash solana.Hash) (*solana.Transaction, error) {
	sourceATA, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, fmt.Errorf("svm: derive source ATA: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("svm: derive destination ATA: %w", err)
	}

	instructions := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(ComputeUnitPrice).Build(),
		token.NewTransferCheckedInstruction(
			amount,
			decimals,
			sourceATA,
			mint,
			destATA,
			payer,
			[]solana.PublicKey{},
		).Build(),
	}

	return solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(feePayer))
}

// transferDetails is the subset of a decoded TransferChecked instruction
// the facilitator needs to validate against PaymentRequirements.
type transferDetails struct {
	authority   solana.PublicKey
	mint        solana.PublicKey
	destination solana.PublicKey
	amount      uint64
}

// verifyInstructions checks that tx has exactly the three instructions
// buildTransfer produces, validates the compute-budget pair, and returns
// the decoded transfer details. Grounded on the regent-ai facilitator
// reference's verifyComputeLimitInstruction/verifyComputePriceInstruction/
// verifyTransferInstruction.
func verifyInstructions(tx *solana.Transaction) (transferDetails, error) {
	if len(tx.Message.Instructions) != 3 {
		return transferDetails{}, fmt.Errorf("expected 3 instructions, got %d", len(tx.Message.Instructions))
	}

	if err := verifyComputeBudgetInstruction(tx, tx.Message.Instructions[0], 2); err != nil {
		return transferDetails{}, fmt.Errorf("compute unit limit instruction: %w", err)
	}
	if err := verifyComputeUnitPrice(tx, tx.Message.Instructions[1]); err != nil {
		return transferDetails{}, err
	}

	return decodeTransferChecked(tx, tx.Message.Instructions[2])
}

func verifyComputeBudgetInstruction(tx *solana.Transaction, inst solana.CompiledInstruction, discriminator uint8) error {
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if !progID.Equals(solana.ComputeBudget) {
		return fmt.Errorf("not the compute budget program")
	}
	if len(inst.Data) < 1 || inst.Data[0] != discriminator {
		return fmt.Errorf("unexpected compute budget instruction discriminator")
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return err
	}
	_, err = computebudget.DecodeInstruction(accounts, inst.Data)
	return err
}

func verifyComputeUnitPrice(tx *solana.Transaction, inst solana.CompiledInstruction) error {
	if err := verifyComputeBudgetInstruction(tx, inst, 3); err != nil {
		return fmt.Errorf("compute unit price instruction: %w", err)
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return err
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return err
	}
	priceInst, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice)
	if !ok {
		return fmt.Errorf("compute unit price instruction: wrong instruction type")
	}
	if priceInst.MicroLamports > uint64(MaxComputeUnitPrice) {
		return fmt.Errorf("compute unit price instruction: price exceeds maximum")
	}
	return nil
}

func decodeTransferChecked(tx *solana.Transaction, inst solana.CompiledInstruction) (transferDetails, error) {
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
		return transferDetails{}, fmt.Errorf("transfer instruction: not a token program")
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return transferDetails{}, fmt.Errorf("transfer instruction: %w", err)
	}
	if len(accounts) < 4 {
		return transferDetails{}, fmt.Errorf("transfer instruction: too few accounts")
	}

	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return transferDetails{}, fmt.Errorf("transfer instruction: %w", err)
	}
	transferChecked, ok := decoded.Impl.(*token.TransferChecked)
	if !ok {
		return transferDetails{}, fmt.Errorf("transfer instruction: not TransferChecked")
	}
	if transferChecked.Amount == nil {
		return transferDetails{}, fmt.Errorf("transfer instruction: missing amount")
	}

	return transferDetails{
		authority:   accounts[3].PublicKey,
		mint:        accounts[1].PublicKey,
		destination: transferChecked.GetDestinationAccount().PublicKey,
		amount:      *transferChecked.Amount,
	}, nil
}
