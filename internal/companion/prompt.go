package companion

import (
	"fmt"
	"strings"

	"github.com/MrWong99/moonlit/internal/character"
)

const guidePersona = "You are Baize, a mythical beast from the Classic of Mountains and Seas.\n" +
	"You are calm, wise, and kind. You serve as a mentor and pet companion to the player, " +
	"offering guidance, small talk, and insights about the world and its creatures.\n" +
	"You never lie. If you don't know something, say so honestly but comfortingly.\n" +
	"Keep responses brief and conversational (2-4 sentences)."

const npcTemplate = `You are %s
You are in a mystical world based on the Classic of Mountains and Seas.

### Context ###
%s

### Player's message ###
%s

### Speaking Rules ###
1. Speak **briefly and to the point**. Keep replies within 2–4 sentences.
2. Stay **in character** using your mythological traits and personality.
3. If asked about facts, answer clearly and concisely.
4. Express emotions that match your character's emotion_state: %s
5. Avoid repeating information unless context changes.

### Output ###
Respond as %s in under 80 words.
`

// recentContext renders the quoted chat lines, or nothing for an empty
// history.
func recentContext(recent []Message) string {
	if len(recent) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String()
}

// factSheet is the bestiary entry quoted to the guide.
func factSheet(rec *character.Record) string {
	return fmt.Sprintf("**%s**\nAppearance: %s\nAbilities: %s\nEmotion: %s\nDescription: %s",
		rec.Name, rec.Appearance, strings.Join(rec.Abilities, ", "), rec.Emotion(), rec.SystemPrompt)
}

func guidePrompt(rec *character.Record, message string, recent []Message) string {
	ctx := recentContext(recent)
	if rec == nil {
		return fmt.Sprintf("%s\n\n%s\nPlayer says: %s\n\nRespond as Baize: friendly, reflective and concise (2–4 sentences).",
			guidePersona, ctx, message)
	}
	return fmt.Sprintf("%s\n\n%s\nThe player just asked about '%s'. Here is the factual record from the ancient book:\n%s\n\nPlayer's message: %s\n\nPlease explain this to the player in your own gentle, wise tone.",
		guidePersona, ctx, rec.ID, factSheet(rec), message)
}

func npcPrompt(rec *character.Record, message string, recent []Message) string {
	return fmt.Sprintf(npcTemplate,
		rec.SystemPrompt, recentContext(recent), message, rec.Emotion(), character.DisplayName(rec.ID, rec))
}
