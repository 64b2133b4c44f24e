package sentry

import "github.com/heroiclabs/nakama-common/runtime"

var (
	ErrInternal         = runtime.NewError("internal error occurred", 13) // INTERNAL
	ErrItemInvalid      = runtime.NewError("item type out of range", 3)   // INVALID_ARGUMENT
	ErrVariantInvalid   = runtime.NewError("item variant out of range", 3)
	ErrQuantityInvalid  = runtime.NewError("quantity must be non-negative", 3)
	ErrNoSessionUser    = runtime.NewError("no user ID in session", 3)
	ErrPermissionDenied = runtime.NewError("permission denied", 7) // PERMISSION_DENIED
	ErrPayloadDecode    = runtime.NewError("cannot decode json", 13)
	ErrPayloadEncode    = runtime.NewError("cannot encode json", 13)
	ErrCatalogueInvalid = runtime.NewError("catalogue config is invalid", 3)
	ErrSystemNotFound   = runtime.NewError("system not found", 13)
)
