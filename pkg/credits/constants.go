package credits

const (
	operationValidate = "validate"
	operationAllocate = "allocate"
	operationConsume  = "consume"
	operationRelease  = "release"
	operationDeduct   = "deduct"
	operationRefund   = "refund"
	operationGrant    = "grant"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
