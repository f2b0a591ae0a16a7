package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/world"
)

// describeFacts turns perceived facts into observation sentences.
// There is always at least one (the agent's own situation).
func describeFacts(name string, facts world.Facts) []string {
	obs := []string{fmt.Sprintf("%s is at %s", name, facts.Place)}
	for _, other := range facts.NearbyAgents {
		obs = append(obs, fmt.Sprintf("%s sees %s nearby", name, other.Name))
	}
	for _, object := range facts.NearbyObjects {
		obs = append(obs, fmt.Sprintf("%s notices the %s", name, object))
	}
	return obs
}

func importancePrompt(observations []string) string {
	var b strings.Builder
	b.WriteString("Rate how emotionally significant each observation is to the observer, ")
	b.WriteString("from 1 (mundane) to 10 (life-changing). ")
	b.WriteString("Reply with one number per line, nothing else.\n")
	for _, o := range observations {
		b.WriteString("- ")
		b.WriteString(o)
		b.WriteString("\n")
	}
	return b.String()
}

var numberRe = regexp.MustCompile(`\d+`)

// parseImportances maps the reasoner's reply onto the observations,
// falling back to the default for anything unparsable.
func parseImportances(reply string, n int, fallback float64) []float64 {
	matches := numberRe.FindAllString(reply, n)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = fallback
		if i < len(matches) {
			if v, err := strconv.Atoi(matches[i]); err == nil && v >= 1 && v <= 10 {
				scores[i] = float64(v)
			}
		}
	}
	return scores
}

func planPrompt(a *Agent, facts world.Facts, retrieved []*memory.Record, places []string) string {
	mood, _ := a.Mood()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a resident of an alien town. Traits: %s. Current mood: %s.\n",
		a.Name, strings.Join(a.Traits, ", "), mood)
	fmt.Fprintf(&b, "You are at %s.\n", facts.Place)
	if len(retrieved) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, r := range retrieved {
			fmt.Fprintf(&b, "- %s\n", r.Content)
		}
	}
	if len(places) > 0 {
		fmt.Fprintf(&b, "Known places: %s.\n", strings.Join(places, ", "))
	}
	b.WriteString("Decide what to do next. Reply in exactly this format:\n")
	b.WriteString("PLAN: <short step>; <short step>; <short step>\n")
	b.WriteString("GOTO: <place name, or 'stay'>\n")
	b.WriteString("MOOD: <one word> <intensity between 0 and 1>\n")
	b.WriteString("CREATE: <none|image|music|websim> <short prompt for the artifact>\n")
	return b.String()
}

func reflectionPrompt(name string, evidence []*memory.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "These are recent experiences of %s:\n", name)
	for _, r := range evidence {
		fmt.Fprintf(&b, "- %s\n", r.Content)
	}
	b.WriteString("State one high-level insight that follows from them, in a single sentence.")
	return b.String()
}

// planReply is the parsed form of the reasoner's planning response.
type planReply struct {
	plan          []string
	gotoPlace     string
	mood          string
	moodMagnitude float64
	createKind    CreativeKind
	createPrompt  string
}

// parsePlanReply extracts the directive lines, tolerating missing or
// malformed ones: an unparsable reply becomes a single-step plan.
func parsePlanReply(reply string) planReply {
	out := planReply{moodMagnitude: -1}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "PLAN:"):
			for _, step := range strings.Split(strings.TrimPrefix(line, "PLAN:"), ";") {
				if step = strings.TrimSpace(step); step != "" {
					out.plan = append(out.plan, step)
				}
			}
		case strings.HasPrefix(line, "GOTO:"):
			place := strings.TrimSpace(strings.TrimPrefix(line, "GOTO:"))
			if place != "" && !strings.EqualFold(place, "stay") {
				out.gotoPlace = place
			}
		case strings.HasPrefix(line, "MOOD:"):
			fields := strings.Fields(strings.TrimPrefix(line, "MOOD:"))
			if len(fields) > 0 {
				out.mood = strings.ToLower(fields[0])
			}
			if len(fields) > 1 {
				if v, err := strconv.ParseFloat(fields[len(fields)-1], 64); err == nil && v >= 0 && v <= 1 {
					out.moodMagnitude = v
				}
			}
		case strings.HasPrefix(line, "CREATE:"):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "CREATE:"))
			fields := strings.SplitN(rest, " ", 2)
			if len(fields) == 0 {
				break
			}
			switch CreativeKind(strings.ToLower(fields[0])) {
			case CreativeImage, CreativeMusic, CreativeWebSim:
				out.createKind = CreativeKind(strings.ToLower(fields[0]))
				if len(fields) > 1 {
					out.createPrompt = strings.TrimSpace(fields[1])
				}
			}
		}
	}
	if len(out.plan) == 0 {
		if trimmed := strings.TrimSpace(reply); trimmed != "" {
			out.plan = []string{firstLine(trimmed)}
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
