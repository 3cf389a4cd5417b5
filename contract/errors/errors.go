package errors

// Error codes for the bridge contracts. Keep stable; used across registry, stream, bridge and adapters.
const (
	ErrCodeSelfDependency         = "bridge.self_dependency"
	ErrCodeMissingDependency      = "bridge.missing_dependency"
	ErrCodeCycleDependency        = "bridge.cycle_dependency"
	ErrCodeDuplicateToken         = "bridge.duplicate_token"
	ErrCodeNotRegistered          = "bridge.not_registered"
	ErrCodeRegistryDisposed       = "bridge.registry_disposed"
	ErrCodeInitFailed             = "bridge.init_failed"
	ErrCodeConstructFailed        = "bridge.construct_failed"
	ErrCodeGroupExists            = "bridge.group_exists"
	ErrCodeNotController          = "bridge.not_controller"
	ErrCodeHandlerExists          = "bridge.handler_exists"
	ErrCodeHandlerNotFound        = "bridge.handler_not_found"
	ErrCodeInvalidPattern         = "bridge.invalid_pattern"
	ErrCodeTransportNotConfigured = "bridge.transport_not_configured"
	ErrCodeSendFailed             = "bridge.send_failed"
	ErrCodePublishFailed          = "bridge.publish_failed"
	ErrCodeInvokeFailed           = "bridge.invoke_failed"
	ErrCodeSerializationFailed    = "bridge.serialization_failed"
	ErrCodeSessionExists          = "bridge.session_exists"
	ErrCodeInvalidConfig          = "bridge.invalid_config"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrSelfDependency         = Code(ErrCodeSelfDependency)
	ErrMissingDependency      = Code(ErrCodeMissingDependency)
	ErrCycleDependency        = Code(ErrCodeCycleDependency)
	ErrDuplicateToken         = Code(ErrCodeDuplicateToken)
	ErrNotRegistered          = Code(ErrCodeNotRegistered)
	ErrRegistryDisposed       = Code(ErrCodeRegistryDisposed)
	ErrInitFailed             = Code(ErrCodeInitFailed)
	ErrConstructFailed        = Code(ErrCodeConstructFailed)
	ErrGroupExists            = Code(ErrCodeGroupExists)
	ErrNotController          = Code(ErrCodeNotController)
	ErrHandlerExists          = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound        = Code(ErrCodeHandlerNotFound)
	ErrInvalidPattern         = Code(ErrCodeInvalidPattern)
	ErrTransportNotConfigured = Code(ErrCodeTransportNotConfigured)
	ErrSendFailed             = Code(ErrCodeSendFailed)
	ErrPublishFailed          = Code(ErrCodePublishFailed)
	ErrInvokeFailed           = Code(ErrCodeInvokeFailed)
	ErrSerializationFailed    = Code(ErrCodeSerializationFailed)
	ErrSessionExists          = Code(ErrCodeSessionExists)
	ErrInvalidConfig          = Code(ErrCodeInvalidConfig)
)
