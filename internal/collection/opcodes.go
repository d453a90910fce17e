package collection

// Inbound opcodes.
const (
	OpMint             uint32 = 1
	OpBatchMint        uint32 = 2
	OpChangeOwner      uint32 = 3
	OpEditContent      uint32 = 4
	OpGetRoyaltyParams uint32 = 0x693d3950
)

// OpReportRoyaltyParams tags the answer to OpGetRoyaltyParams.
const OpReportRoyaltyParams uint32 = 0xa8cb00ad

// Exit codes raised by the collection. Generic codes live in package vm.
const (
	ExitBatchTooLarge   int32 = 399
	ExitAccessDenied    int32 = 401
	ExitIndexOutOfRange int32 = 402
	ExitInvalidRoyalty  int32 = 403
	ExitBadAddress      int32 = 136
)

// MaxBatchSize is the largest number of items a BatchMint may deploy.
const MaxBatchSize = 250
