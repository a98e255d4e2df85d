package relay

// envelope is a frame read from a client, forwarded verbatim to the rest
// of its room.
type envelope struct {
	client *Client
	data   []byte

	// msgType and to are decoded only for logging.
	msgType string
	to      string
}
