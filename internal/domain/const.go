package domain

const (
	// Blockchain constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"

	// DEFAULT_CAMPAIGN_ID is used for gifts whose creator is not mapped to a campaign
	DEFAULT_CAMPAIGN_ID = "default"
)
