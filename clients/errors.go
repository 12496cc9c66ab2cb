package clients

const (
	// -----------------------------
	// EVM CLIENT
	// -----------------------------
	ErrInvalidEvmAmount          = "invalid_exact_evm_client_amount"
	ErrFailedToSignAuthorization = "invalid_exact_evm_client_failed_to_sign_authorization"
	ErrUnknownEvmToken           = "invalid_exact_evm_client_unknown_token"

	// -----------------------------
	// SVM CLIENT
	// -----------------------------
	ErrMissingFeePayer        = "invalid_exact_svm_client_missing_fee_payer"
	ErrInvalidExactSvmPayload = "invalid_exact_svm_payload_transaction"
	ErrAmountOverflow         = "invalid_exact_svm_client_amount_overflow"

	// -----------------------------
	// FEE PAYER SAFETY
	// -----------------------------
	ErrFeePayerNotManaged = "invalid_exact_svm_payload_transaction_fee_payer_not_managed"
	ErrFeePayerMismatch   = "invalid_exact_svm_payload_transaction_fee_payer_mismatch"
	ErrNotARequiredSigner = "invalid_exact_svm_payload_transaction_signer_not_required"
	ErrSimulationFailed   = "invalid_exact_svm_payload_transaction_simulation_failed"
	ErrTransactionFailed  = "settle_exact_svm_transaction_failed"
	ErrNoRPCForNetwork    = "invalid_exact_svm_no_rpc_for_network"

	// -----------------------------
	// SETTLEMENT ERRORS
	// -----------------------------
	ErrTransactionSignerMissingSignatures    = "transaction_signer_missing_signatures"
	ErrSettleTransactionConfirmationTimedOut = "settle_exact_svm_transaction_confirmation_timed_out"
)
