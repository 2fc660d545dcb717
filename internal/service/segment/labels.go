package segment

import "fmt"

// Speaker identifies which side of the call an utterance belongs to.
type Speaker int

const (
	// SpeakerYou is the local user being protected.
	SpeakerYou Speaker = iota
	// SpeakerCaller is the counterparty of the call.
	SpeakerCaller
)

// String returns the display form used in rendered transcripts.
func (s Speaker) String() string {
	switch s {
	case SpeakerYou:
		return "You"
	case SpeakerCaller:
		return "Caller"
	default:
		return fmt.Sprintf("Speaker(%d)", int(s))
	}
}

// MarshalText renders the speaker as its display form.
func (s Speaker) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LabelRule maps one speaker-label convention to a role.
// Pattern is a regular expression matching the whole label including the
// trailing colon. Rules earlier in a table win when two rules match at the
// same position.
type LabelRule struct {
	Pattern string
	Role    Speaker
}

// DefaultRules is the label table of the bundled call records.
var DefaultRules = []LabelRule{
	{Pattern: `Speaker1:`, Role: SpeakerCaller},
	{Pattern: `Speaker2:`, Role: SpeakerYou},
	{Pattern: `Aarav \(Scammer\):`, Role: SpeakerCaller},
	{Pattern: `Rohit \(Scammer\):`, Role: SpeakerCaller},
	{Pattern: `Emily \(Scammer\):`, Role: SpeakerCaller},
	{Pattern: `Vendor Rep \(Scammer\):`, Role: SpeakerCaller},
	// Any other single-word name. A multi-word pattern would start inside
	// the previous utterance and swallow its trailing capitalised words.
	{Pattern: `\b\p{Lu}[\p{L}'-]* \(Scammer\):`, Role: SpeakerCaller},
	{Pattern: `Sunita Mehta:`, Role: SpeakerCaller},
	{Pattern: `Rishab:`, Role: SpeakerCaller},
	{Pattern: `Ravi:`, Role: SpeakerCaller},
	{Pattern: `Rahul:`, Role: SpeakerCaller},
	{Pattern: `Mrs\. Mehta:`, Role: SpeakerYou},
	{Pattern: `Neha:`, Role: SpeakerYou},
	{Pattern: `Aruna:`, Role: SpeakerYou},
	{Pattern: `Mother:`, Role: SpeakerYou},
}
