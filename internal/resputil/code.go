package resputil

type ErrorCode int

const (
	OK ErrorCode = 0

	// General
	InvalidRequest ErrorCode = 40001

	// Workflow preconditions
	ValidationFailed ErrorCode = 40002 // operation rejected, reasons in data
	IntegrityFailed  ErrorCode = 40003 // integrity check errors block the step
	QuotaExceeded    ErrorCode = 40004

	// Token
	TokenExpired ErrorCode = 40101
	TokenInvalid ErrorCode = 40102

	InvalidCredentials ErrorCode = 40106

	// User is not allowed to access the resource
	UserNotAllowed ErrorCode = 40301

	NotFound ErrorCode = 40401

	// Indicates laziness of the developer
	// Frontend will directly print the message without any translation
	NotSpecified ErrorCode = 99999
)
