package constants

const (
	SERVICE_NAME = "ff-gift-engine-api"

	DEFAULT_EVENTS_LIMIT = 100
	MAX_EVENTS_LIMIT     = 1000

	MAX_VIEWER_ID_LENGTH = 128
	MAX_DEVICE_ID_LENGTH = 128
)
