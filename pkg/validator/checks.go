package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storyforge/engine/pkg/models"
)

// VoiceTagEntry is one line's worth of the add_voice_tags_to_story
// operation's expected output: a character tag and an emotion tag.
type VoiceTagEntry struct {
	CharacterTag string `json:"character_tag"`
	EmotionTag   string `json:"emotion_tag"`
}

// VoiceTagsCheck verifies that add_voice_tags_to_story's output parses
// as a {line_id: {character_tag, emotion_tag}} mapping covering every
// dialogue line id declared in the prompt, each with both sub-tags
// present. A prompt declaring zero dialogue lines accepts an empty
// mapping as valid.
type VoiceTagsCheck struct {
	ExpectedLineIDs []string
}

// ID identifies this check for ValidationPolicy.DeterministicIDs.
func (c VoiceTagsCheck) ID() string { return "add_voice_tags_to_story" }

// Check implements DeterministicCheck.
func (c VoiceTagsCheck) Check(result models.GenerateResult) (bool, string) {
	if len(c.ExpectedLineIDs) == 0 {
		return true, ""
	}

	var mapping map[string]VoiceTagEntry
	if err := json.Unmarshal([]byte(result.Content), &mapping); err != nil {
		return false, fmt.Sprintf("output must be a JSON object of {line_id: {character_tag, emotion_tag}}: %v", err)
	}

	var missing []string
	for _, id := range c.ExpectedLineIDs {
		entry, ok := mapping[id]
		if !ok || entry.CharacterTag == "" || entry.EmotionTag == "" {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("missing character/emotion voice tags for line ids: %v", missing)
	}
	return true, ""
}

// NonEmptyOutputCheck rejects blank or whitespace-only responses and
// responses shorter than MinChars — the cheapest possible deterministic
// check. It runs for any operation whose ValidationPolicy lists its ID.
type NonEmptyOutputCheck struct{ MinChars int }

// ID identifies this check.
func (c NonEmptyOutputCheck) ID() string { return "non_empty_output" }

// Check implements DeterministicCheck.
func (c NonEmptyOutputCheck) Check(result models.GenerateResult) (bool, string) {
	if strings.TrimSpace(result.Content) == "" {
		return false, "output is empty"
	}
	if len(result.Content) < c.MinChars {
		return false, fmt.Sprintf("output is %d characters, below the required minimum of %d", len(result.Content), c.MinChars)
	}
	return true, ""
}
