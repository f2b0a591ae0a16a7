// Package world holds the environment the agents live in: a small grid
// town with named places, plus the social relation graph.
package world

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Position is a grid coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) dist(o Position) float64 {
	dx, dy := float64(p.X-o.X), float64(p.Y-o.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Place is a named location in the town.
type Place struct {
	Name string   `json:"name"`
	Pos  Position `json:"pos"`
}

// Object is a fixed interactable thing, like an easel or a terminal.
type Object struct {
	Name string   `json:"name"`
	Pos  Position `json:"pos"`
}

// NearbyAgent is another resident visible from an agent's position.
type NearbyAgent struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
}

// Facts is what one agent perceives at the start of a tick.
type Facts struct {
	Position      Position      `json:"position"`
	Place         string        `json:"place"`
	NearbyAgents  []NearbyAgent `json:"nearby_agents"`
	NearbyObjects []string      `json:"nearby_objects"`
}

// World is the environment capability the cognition cycle consumes.
type World interface {
	Observe(agentID string) (Facts, error)
	Move(agentID string, target Position) error
}

// Town is the in-process World implementation: a bounded grid with
// named places and objects, and a presence entry per resident.
type Town struct {
	width, height int
	radius        float64
	places        []Place
	objects       []Object
	presence      map[string]*presenceEntry
	mu            sync.RWMutex
	logger        *zap.Logger
}

type presenceEntry struct {
	name string
	pos  Position
}

// TownConfig describes the town layout.
type TownConfig struct {
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	PerceptionRadius float64  `json:"perception_radius"`
	Places           []Place  `json:"places"`
	Objects          []Object `json:"objects"`
}

// NewTown creates a town from config.
func NewTown(cfg TownConfig, logger *zap.Logger) *Town {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 64
	}
	if cfg.PerceptionRadius <= 0 {
		cfg.PerceptionRadius = 5
	}
	return &Town{
		width:    cfg.Width,
		height:   cfg.Height,
		radius:   cfg.PerceptionRadius,
		places:   cfg.Places,
		objects:  cfg.Objects,
		presence: make(map[string]*presenceEntry),
		logger:   logger,
	}
}

// Enter places a resident in the town.
func (t *Town) Enter(agentID, name string, pos Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presence[agentID] = &presenceEntry{name: name, pos: t.clamp(pos)}
	t.logger.Info("resident entered town",
		zap.String("agent", agentID),
		zap.String("name", name))
}

// Leave removes a resident. Explicit removal is the only way out.
func (t *Town) Leave(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.presence, agentID)
}

// Observe returns what the agent perceives from its current position.
func (t *Town) Observe(agentID string) (Facts, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	self, ok := t.presence[agentID]
	if !ok {
		return Facts{}, fmt.Errorf("agent %s is not in the town", agentID)
	}

	facts := Facts{
		Position: self.pos,
		Place:    t.placeAt(self.pos),
	}
	for id, other := range t.presence {
		if id == agentID {
			continue
		}
		if self.pos.dist(other.pos) <= t.radius {
			facts.NearbyAgents = append(facts.NearbyAgents, NearbyAgent{
				ID: id, Name: other.name, Position: other.pos,
			})
		}
	}
	// Map iteration order would leak into observation records, so
	// perception is sorted before anyone sees it.
	sort.Slice(facts.NearbyAgents, func(i, j int) bool {
		a, b := facts.NearbyAgents[i], facts.NearbyAgents[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	for _, obj := range t.objects {
		if self.pos.dist(obj.Pos) <= t.radius {
			facts.NearbyObjects = append(facts.NearbyObjects, obj.Name)
		}
	}
	return facts, nil
}

// Move relocates a resident, clamping to the town bounds.
func (t *Town) Move(agentID string, target Position) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	self, ok := t.presence[agentID]
	if !ok {
		return fmt.Errorf("agent %s is not in the town", agentID)
	}
	self.pos = t.clamp(target)
	return nil
}

// PositionOf returns a resident's current position.
func (t *Town) PositionOf(agentID string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.presence[agentID]; ok {
		return p.pos, true
	}
	return Position{}, false
}

// PlacePosition resolves a place name to its coordinate.
func (t *Town) PlacePosition(name string) (Position, bool) {
	for _, pl := range t.places {
		if pl.Name == name {
			return pl.Pos, true
		}
	}
	return Position{}, false
}

// Places lists all named places.
func (t *Town) Places() []Place {
	out := make([]Place, len(t.places))
	copy(out, t.places)
	return out
}

// placeAt names the closest place within perception radius, or reports
// open ground.
func (t *Town) placeAt(pos Position) string {
	best, bestDist := "", math.MaxFloat64
	for _, pl := range t.places {
		if d := pos.dist(pl.Pos); d <= t.radius && d < bestDist {
			best, bestDist = pl.Name, d
		}
	}
	if best == "" {
		return "open ground"
	}
	return best
}

func (t *Town) clamp(pos Position) Position {
	if pos.X < 0 {
		pos.X = 0
	}
	if pos.X >= t.width {
		pos.X = t.width - 1
	}
	if pos.Y < 0 {
		pos.Y = 0
	}
	if pos.Y >= t.height {
		pos.Y = t.height - 1
	}
	return pos
}
