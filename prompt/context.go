package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/becomeliminal/companion-core/situation"
)

// typeOrder fixes the rendering order of context groups so the summary
// is stable across assemblies.
var typeOrder = []situation.Type{
	situation.TypeTime,
	situation.TypeWeather,
	situation.TypeLocation,
	situation.TypeEmotion,
	situation.TypeSocial,
	situation.TypeProductivity,
	situation.TypeActivity,
	situation.TypeAIThinking,
	situation.TypeCustom,
}

// formatContextSummary groups live context items by type and renders
// each group with its type-specific formatter. Returns "" when nothing
// renders.
func formatContextSummary(items []*situation.Item) string {
	if len(items) == 0 {
		return ""
	}
	groups := make(map[situation.Type][]*situation.Item, len(items))
	for _, it := range items {
		groups[it.Type] = append(groups[it.Type], it)
	}

	var lines []string
	for _, t := range typeOrder {
		for _, it := range groups[t] {
			if line := formatContextItem(it); line != "" {
				lines = append(lines, "- "+line)
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Current context:\n" + strings.Join(lines, "\n")
}

func formatContextItem(it *situation.Item) string {
	d := &it.Data
	switch {
	case d.Time != nil:
		return formatTime(d.Time)
	case d.Weather != nil:
		return fmt.Sprintf("The weather in %s is %s, %.0f°C.",
			d.Weather.Location, d.Weather.Condition, d.Weather.Temperature)
	case d.Location != nil:
		return fmt.Sprintf("The user is currently at %s.", d.Location.Place)
	case d.Emotion != nil:
		return formatEmotion(d.Emotion)
	case d.Social != nil:
		return formatSocial(d.Social)
	case d.Activity != nil:
		return formatActivity(d.Activity)
	case d.Custom != nil:
		return formatCustom(d.Custom)
	case len(d.Extra) > 0:
		return formatFields(d.Extra)
	default:
		return ""
	}
}

func formatTime(t *situation.TimeData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "It is currently %s", t.Local.Format("Monday 3:04 PM"))
	if t.PartOfDay != "" {
		fmt.Fprintf(&b, " (%s)", t.PartOfDay)
	}
	if t.Timezone != "" {
		fmt.Fprintf(&b, " in %s", t.Timezone)
	}
	b.WriteString(".")
	return b.String()
}

func formatEmotion(e *situation.EmotionData) string {
	// User and companion emotions read differently: the user's is an
	// observation, the companion's is first person.
	if e.Subject == "companion" {
		return fmt.Sprintf("You are feeling %s.", e.Mood)
	}
	if e.Intensity >= 0.7 {
		return fmt.Sprintf("The user seems strongly %s.", e.Mood)
	}
	return fmt.Sprintf("The user seems %s.", e.Mood)
}

func formatSocial(s *situation.SocialData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user has %d connection", s.ConnectionCount)
	if s.ConnectionCount != 1 {
		b.WriteString("s")
	}
	if len(s.TopMatches) > 0 {
		fmt.Fprintf(&b, "; top matches: %s", strings.Join(s.TopMatches, ", "))
	}
	b.WriteString(".")
	return b.String()
}

func formatActivity(a *situation.ActivityData) string {
	if a.Status != "" {
		return fmt.Sprintf("Recent activity: %s (%s).", a.Name, a.Status)
	}
	return fmt.Sprintf("Recent activity: %s.", a.Name)
}

func formatCustom(c *situation.CustomData) string {
	switch c.Kind {
	case situation.CustomKindDesire:
		if want := c.Fields["text"]; want != "" {
			return fmt.Sprintf("The user has expressed a desire: %s.", want)
		}
	case situation.CustomKindThoughtLoop:
		if topic := c.Fields["text"]; topic != "" {
			return fmt.Sprintf("A recurring thought pattern: %s.", topic)
		}
	}
	if len(c.Fields) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s.", c.Kind, formatFields(c.Fields))
}

// formatFields renders a small string map as "k=v, k=v" in key order.
func formatFields(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ", ")
}
