package models

// ShareableAsset is a discrete content block detected in the host transcript
// that can be broadcast on demand. ShareID is positional: "{type}-{n}" where n
// is the 1-based occurrence of that type in scan order, so identical content
// always yields identical ids.
type ShareableAsset struct {
	ShareID     string `json:"share_id"`
	Type        string `json:"type"`
	Instance    int    `json:"instance"`
	Fingerprint string `json:"fingerprint"`
	Payload     string `json:"payload,omitempty"` // outer HTML of the detected block
}
