package models

// Channel identifies a canonical publishing destination.
type Channel string

const (
	ChannelMedium   Channel = "medium"
	ChannelDevTo    Channel = "devto"
	ChannelYouTube  Channel = "youtube"
	ChannelLinkedIn Channel = "linkedin"
	ChannelTwitter  Channel = "twitter"
)

func (c Channel) String() string {
	return string(c)
}
