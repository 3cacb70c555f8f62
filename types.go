package spear

import "github.com/lfedgeai/SPEAR/internal/wire"

// Method selects how a peer should interpret a Request's payload. It
// mirrors wire.Method: that type lives under internal/wire, which only code
// rooted at this module can import, so the public API re-exports it here as
// an alias rather than forcing every workload module to route through the
// unexported package.
type Method = wire.Method

const (
	MethodToolInvoke = wire.MethodToolInvoke
	MethodCustom     = wire.MethodCustom
	MethodTransform  = wire.MethodTransform
	MethodInput      = wire.MethodInput
	MethodSpeak      = wire.MethodSpeak
	MethodRecord     = wire.MethodRecord
	MethodStreamCtrl = wire.MethodStreamCtrl
)

// OperationType discriminates the kind of OperationEvent sent on a stream
// via Stream.SendOperation. Mirrors wire.OperationType.
type OperationType = wire.OperationType

const (
	OpCreate = wire.OpCreate
	OpAppend = wire.OpAppend
	OpClose  = wire.OpClose
)

// NotificationEventType discriminates the kind of NotificationEvent sent on
// a stream via Stream.SendNotification. Mirrors wire.NotificationEventType.
type NotificationEventType = wire.NotificationEventType

const (
	NotifyCreated    = wire.NotifyCreated
	NotifyConfigured = wire.NotifyConfigured
	NotifyUpdated    = wire.NotifyUpdated
	NotifyCompleted  = wire.NotifyCompleted
	NotifyError      = wire.NotifyError
)
