package session

import "net/url"

// InviteLink returns the dmsync:// link that opens conversationID on the
// relay at relayURL.
func InviteLink(relayURL, conversationID string) string {
	q := url.Values{}
	q.Set("relay", relayURL)
	return "dmsync://join/" + url.PathEscape(conversationID) + "?" + q.Encode()
}
