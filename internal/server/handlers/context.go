package handlers

import "context"

// contextKey is the type for request context keys set by the middleware.
type contextKey string

const (
	// UserGUIDKey holds the authenticated user's GUID.
	UserGUIDKey contextKey = "user_guid"
	// DeviceIDKey holds the session's device id, if any.
	DeviceIDKey contextKey = "device_id"
	// HandleKey holds the authenticated user's handle.
	HandleKey contextKey = "handle"
)

// GetUserGUID extracts the authenticated user's GUID from the context.
func GetUserGUID(ctx context.Context) (string, bool) {
	guid, ok := ctx.Value(UserGUIDKey).(string)
	return guid, ok
}

// GetDeviceID extracts the session's device id from the context.
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(DeviceIDKey).(string)
	return deviceID, ok
}

// GetHandle extracts the authenticated user's handle from the context.
func GetHandle(ctx context.Context) (string, bool) {
	handle, ok := ctx.Value(HandleKey).(string)
	return handle, ok
}
