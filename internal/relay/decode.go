package relay

import (
	"encoding/json"

	"chatrelay/internal/platform/telegram"
)

// decodeUpdate re-encodes the webhook's already-parsed JSON tree and
// decodes it into the platform's Update shape. The extra round trip
// costs little at webhook volumes and keeps internal/webhook ignorant
// of any platform-specific struct.
func decodeUpdate(tree any) (*telegram.Update, bool) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, false
	}
	var upd telegram.Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, false
	}
	return &upd, true
}
